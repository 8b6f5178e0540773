package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowguard/internal/store"
)

var inboxStatuses = []store.WebhookStatus{
	store.WebhookReceived,
	store.WebhookProcessed,
	store.WebhookDuplicate,
	store.WebhookFailed,
	store.WebhookRejected,
}

// InboxEntry is one stored gateway delivery.
type InboxEntry struct {
	ID                int64      `json:"id"`
	ReceivedAt        time.Time  `json:"received_at"`
	CheckoutReference string     `json:"checkout_reference"`
	SignatureValid    bool       `json:"signature_valid"`
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
	Payload           string     `json:"payload,omitempty"`
}

// NewInboxCommand creates the inbox command.
func NewInboxCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		status  string
		limit   int
		payload bool
	)
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List stored gateway callbacks by status",
		Long: `List deliveries from the webhook inbox. Every callback is stored
before it is processed, so failed and rejected deliveries can be inspected
and replayed by hand.

Examples:
  flowguard inbox
  flowguard inbox --status rejected --limit 10 --payload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.WebhookStatus(status)
			if !slices.Contains(inboxStatuses, st) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q: must be one of %v", status, inboxStatuses))
			}
			if limit <= 0 {
				return NewExitError(ExitCommandError, "limit must be positive")
			}
			return runInbox(rootOpts, cmd, st, limit, payload)
		},
	}
	cmd.Flags().StringVar(&status, "status", string(store.WebhookFailed), "delivery status to list")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of deliveries")
	cmd.Flags().BoolVar(&payload, "payload", false, "include raw payloads")
	return cmd
}

func runInbox(opts *RootOptions, cmd *cobra.Command, status store.WebhookStatus, limit int, payload bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.ListWebhooks(ctx, status, limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list webhooks", err)
	}
	out := make([]InboxEntry, 0, len(records))
	for _, r := range records {
		e := InboxEntry{
			ID:                r.ID,
			ReceivedAt:        r.ReceivedAt,
			CheckoutReference: r.CheckoutReference,
			SignatureValid:    r.SignatureValid,
			Status:            string(r.Status),
			Error:             r.Error,
			ProcessedAt:       r.ProcessedAt,
		}
		if payload {
			e.Payload = r.Payload
		}
		out = append(out, e)
	}
	return opts.formatter(cmd).Success(out, func(w io.Writer) {
		if len(out) == 0 {
			fmt.Fprintf(w, "No %s deliveries.\n", status)
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tRECEIVED\tCHECKOUT\tSIGNED\tERROR")
		for _, e := range out {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n",
				e.ID, e.ReceivedAt.UTC().Format(time.RFC3339), e.CheckoutReference, e.SignatureValid, e.Error)
		}
		tw.Flush()
		if payload {
			for _, e := range out {
				fmt.Fprintf(w, "\n#%d %s\n", e.ID, e.Payload)
			}
		}
	})
}
