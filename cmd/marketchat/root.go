package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"marketchat/pkg/config"
	"marketchat/pkg/logger"
)

type rootOptions struct {
	debug        bool
	role         string
	stateBackend string
	stateFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "marketchat",
		Short: "Real-time marketplace chat client",
		Long: strings.TrimSpace(`
Keeps a live view of marketplace conversations: REST snapshots from the
marketplace API merged with push events from its realtime gateway.

Configuration is read from .env and the environment (API_BASE_URL,
SOCKET_URL, AUTH_TOKEN, USER_DATA, STATE_BACKEND, ...).
`),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// stdout carries conversation output
			logger.SetOutput(os.Stderr)
			if opts.debug {
				logger.SetDebug(true)
			}
		},
	}

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.role, "role", "", "Override the viewer role (user|admin)")
	cmd.PersistentFlags().StringVar(&opts.stateBackend, "state", "", "Local state backend (memory|file|firestore)")
	cmd.PersistentFlags().StringVar(&opts.stateFile, "state-file", "", "Path of the file state backend")

	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newLoginCmd(opts))

	return cmd
}

// loadConfig applies the global flags on top of the environment.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg := config.FromEnv()
	if o.role != "" {
		cfg.ViewerRole = strings.ToLower(o.role)
	}
	if o.stateBackend != "" {
		cfg.StateBackend = o.stateBackend
	}
	if o.stateFile != "" {
		cfg.StateFile = o.stateFile
	}
	if cfg.StateBackend == config.StateBackendFile && cfg.StateFile == "" {
		cfg.StateFile = defaultStateFile()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
