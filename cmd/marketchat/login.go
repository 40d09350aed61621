package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"marketchat/internal/adapter/repository"
	"marketchat/internal/infrastructure/auth"
	"marketchat/pkg/config"
)

func newLoginCmd(root *rootOptions) *cobra.Command {
	var (
		token    string
		userData string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the auth token and user data in the file state backend",
		Long: strings.TrimSpace(`
Saves auth_token and user_data so later commands run without AUTH_TOKEN and
USER_DATA in the environment. Only the file state backend persists them.
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.stateBackend == "" {
				root.stateBackend = config.StateBackendFile
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.StateBackend != config.StateBackendFile {
				return fmt.Errorf("login needs the file state backend, got %q", cfg.StateBackend)
			}

			viewer, err := auth.ResolveViewer(token, userData, cfg.ViewerRole)
			if err != nil {
				return err
			}

			store, err := repository.NewFileKVStore(cfg.StateFile)
			if err != nil {
				return err
			}
			state := repository.NewViewerStateRepository(store)
			if err := state.SetAuthToken(cmd.Context(), token); err != nil {
				return err
			}
			if userData != "" {
				if err := state.SetUserData(cmd.Context(), userData); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s), state saved to %s\n", viewer.ID, viewer.Role, cfg.StateFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Marketplace auth token (JWT)")
	cmd.Flags().StringVar(&userData, "user-data", "", "Cached user profile JSON")
	cmd.MarkFlagRequired("token")

	return cmd
}
