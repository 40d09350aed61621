package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/service"
)

func newChatCmd(root *rootOptions) *cobra.Command {
	var (
		seller string
		buyer  string
	)

	cmd := &cobra.Command{
		Use:   "chat [chat-id]",
		Short: "Open a chat window and send messages from stdin",
		Long: strings.TrimSpace(`
Joins the chat room, prints its history and every message that arrives.
Each line read from stdin is sent as a message and shown right away; the
server echo replaces it once delivered.

Without a chat id, --buyer and --seller look the room up by participants.
`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			chatID := ""
			if len(args) == 1 {
				chatID = strings.TrimSpace(args[0])
			} else {
				if buyer == "" || seller == "" {
					return fmt.Errorf("missing chat id (or use --buyer and --seller)")
				}
				room, err := a.api.GetRoomByParticipants(ctx, buyer, seller)
				if err != nil {
					return err
				}
				if room == nil {
					return fmt.Errorf("no chat between %s and %s", buyer, seller)
				}
				chatID = room.ID
			}

			out := cmd.OutOrStdout()
			printer := &messagePrinter{w: out, viewerID: a.viewer.ID, seen: make(map[string]entity.MessageStatus)}

			window := a.newChatWindow(stderrNotifier(cmd.ErrOrStderr()))
			window.OnChange(printer.print)
			if err := window.Open(ctx, chatID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "history failed to load: %v\n", err)
			}
			defer window.Close()

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					if _, err := window.Send(ctx, line); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "! %v\n", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&buyer, "buyer", "", "Buyer id, used with --seller to find the chat")
	cmd.Flags().StringVar(&seller, "seller", "", "Seller id, used with --buyer to find the chat")

	return cmd
}

// messagePrinter prints each message once, keyed by its server id or its
// placeholder id while pending.
type messagePrinter struct {
	mu       sync.Mutex
	w        io.Writer
	viewerID string
	seen     map[string]entity.MessageStatus
}

func (p *messagePrinter) print(msgs []entity.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range msgs {
		if _, ok := p.seen[m.ClientID]; ok && !m.IsPlaceholder() && m.ClientID != "" {
			// the echo of a message already shown
			p.seen[m.ID] = m.Status
			continue
		}
		if prev, ok := p.seen[m.ID]; ok && prev == m.Status {
			continue
		}
		p.seen[m.ID] = m.Status

		who := m.SenderID
		if m.SenderID == p.viewerID {
			who = "you"
		}
		suffix := ""
		switch m.Status {
		case entity.MessageStatusPending:
			suffix = " (sending)"
		case entity.MessageStatusFailed:
			suffix = " (failed)"
		}
		fmt.Fprintf(p.w, "[%s] %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), who, service.MessageText(m.Content), suffix)
	}
}
