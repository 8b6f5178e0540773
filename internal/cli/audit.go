package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowguard/internal/domain"
	"github.com/roach88/flowguard/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Entity string // optional: only entries for this entity type
}

// AuditEvent is one entry of a session's audit trail.
type AuditEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Entity    string         `json:"entity"`
	Action    string         `json:"action"`
	OldValue  string         `json:"old_value,omitempty"`
	NewValue  string         `json:"new_value,omitempty"`
	Actor     string         `json:"actor"`
	Reason    string         `json:"reason,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditResult is the session's current state with its trail.
type AuditResult struct {
	SessionID string       `json:"session_id"`
	Payment   string       `json:"payment"`
	Status    string       `json:"status"`
	Video     string       `json:"video"`
	Refund    string       `json:"refund"`
	Version   int64        `json:"version"`
	Timeline  []AuditEvent `json:"timeline"`
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit <session-id>",
		Short: "Show a session's states and audit trail",
		Long: `Show the current payment, session, video and refund states of a
session followed by its audit trail in order.

Examples:
  flowguard audit 0192f3c4-...
  flowguard audit 0192f3c4-... --entity payment
  flowguard audit 0192f3c4-... --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "filter to one entity type (payment|session|video|refund)")

	return cmd
}

func runAudit(opts *AuditOptions, sessionID string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.Entity != "" {
		if _, err := domain.ParseEntityType(opts.Entity); err != nil {
			return WrapExitError(ExitCommandError, "invalid --entity", err)
		}
	}

	f := opts.formatter(cmd)
	s, err := st.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		_ = f.Error(CodeNotFound, fmt.Sprintf("session %s not found", sessionID), nil)
		return NewExitError(ExitCommandError, "session not found")
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load session", err)
	}
	entries, err := st.ListAudit(ctx, sessionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load audit trail", err)
	}

	result := AuditResult{
		SessionID: s.ID,
		Payment:   s.Payment.String(),
		Status:    s.Status.String(),
		Video:     s.Video.String(),
		Refund:    s.Refund.String(),
		Version:   s.Version,
		Timeline:  buildTimeline(entries, opts.Entity),
	}
	return f.Success(result, func(w io.Writer) { writeAuditText(w, result) })
}

// buildTimeline converts audit entries, keeping only entity when set.
func buildTimeline(entries []domain.AuditLogEntry, entity string) []AuditEvent {
	out := make([]AuditEvent, 0, len(entries))
	for _, e := range entries {
		if entity != "" && string(e.EntityType) != entity {
			continue
		}
		out = append(out, AuditEvent{
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Entity:    string(e.EntityType),
			Action:    e.Action,
			OldValue:  e.OldValue,
			NewValue:  e.NewValue,
			Actor:     e.Actor.String(),
			Reason:    e.Reason,
			Duplicate: e.Duplicate,
			Metadata:  e.Metadata,
		})
	}
	return out
}

func writeAuditText(w io.Writer, r AuditResult) {
	fmt.Fprintf(w, "Session %s (version %d)\n", r.SessionID, r.Version)
	fmt.Fprintf(w, "  payment=%s status=%s video=%s refund=%s\n\n", r.Payment, r.Status, r.Video, r.Refund)
	if len(r.Timeline) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tENTITY\tACTION\tCHANGE\tACTOR\tREASON")
	for _, e := range r.Timeline {
		change := e.OldValue + " -> " + e.NewValue
		if e.OldValue == "" && e.NewValue == "" {
			change = "-"
		}
		action := e.Action
		if e.Duplicate {
			action += " (duplicate)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.Timestamp.UTC().Format(time.RFC3339), e.Entity, action, change, e.Actor, e.Reason)
	}
	tw.Flush()
}
