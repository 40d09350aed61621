package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/service"
	"marketchat/internal/usecase"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var (
		filter  string
		asJSON  bool
		limit   int
		pinned  []string
		labelID string
		label   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the conversation list in real time",
		Long: strings.TrimSpace(`
Prints the conversation list every time it changes: new messages move a
conversation to the top and bump its unread count, pinned conversations stay
first. Admin viewers watch every marketplace chat.
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := usecase.ParseFilter(filter)
			if !ok {
				return fmt.Errorf("unknown filter %q (all, unread, archived, labeled)", filter)
			}

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

			out := cmd.OutOrStdout()
			conversations := a.newConversations(a.newConn(), stderrNotifier(cmd.ErrOrStderr()))
			conversations.OnChange(func([]entity.ConversationSummary) {
				render(out, a.viewer.ID, conversations.Conversations(f), limit, asJSON)
			})

			if err := conversations.Open(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "initial load failed: %v\n", err)
			}
			defer conversations.Close()

			for _, id := range pinned {
				if err := conversations.Pin(ctx, id, true); err != nil {
					return err
				}
			}
			if labelID != "" {
				if err := conversations.SetLabel(ctx, labelID, label); err != nil {
					return err
				}
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "all", "List filter: all, unread, archived, labeled")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print each snapshot as a JSON line")
	cmd.Flags().IntVar(&limit, "limit", 20, "Rows to print per snapshot (0 for all)")
	cmd.Flags().StringSliceVar(&pinned, "pin", nil, "Pin these chat ids before watching")
	cmd.Flags().StringVar(&labelID, "label-chat", "", "Chat id to label before watching (admin)")
	cmd.Flags().StringVar(&label, "label", "", "Label for --label-chat: GOOD, MEDIUM, BAD or empty to clear")

	return cmd
}

func render(w io.Writer, viewerID string, rows []entity.ConversationSummary, limit int, asJSON bool) {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	if asJSON {
		b, err := json.Marshal(rows)
		if err != nil {
			return
		}
		fmt.Fprintln(w, string(b))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tCHAT\tWITH\tUNREAD\tLABEL\tUPDATED\tLAST MESSAGE")
	for _, c := range rows {
		pin := ""
		if c.IsPinned {
			pin = "*"
		}
		updated := ""
		if !c.UpdatedAt.IsZero() {
			updated = c.UpdatedAt.Local().Format("Jan 02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			pin, c.ID, c.OtherParticipant(viewerID), c.UnreadCount,
			service.LabelText(c.Label), updated, truncate(service.PreviewText(c.LastMessage), 48))
	}
	tw.Flush()
	fmt.Fprintln(w)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func stderrNotifier(w io.Writer) usecase.Notifier {
	return usecase.NotifierFunc(func(n usecase.Notification) {
		fmt.Fprintf(w, "! %s\n", n.Message)
	})
}
