package sync

import (
	"log/slog"
	"time"
)

// PassReport summarizes one full synchronization pass.
type PassReport struct {
	// TotalDeals is the number of open deals seen across all pipelines.
	TotalDeals int

	// DealsProcessed counts deals whose logs were examined, including
	// those with nothing new.
	DealsProcessed int

	// NewInteractions counts log rows that had not been propagated yet.
	NewInteractions int

	// CommentedDeals counts deals that received at least one comment.
	CommentedDeals int

	// CommentsAdded counts individual comments that landed.
	CommentsAdded int

	// FieldUpdates counts crm.deal.update attempts.
	FieldUpdates int

	// UpdatesRejected counts updates the server did not acknowledge
	// (soft failures, not retried within the pass).
	UpdatesRejected int

	// Errors counts contained per-page and per-row failures.
	Errors int

	Duration time.Duration
}

// LogValue renders the report as a structured log group, so the pass
// summary is one log line.
func (r *PassReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("total_deals", r.TotalDeals),
		slog.Int("deals_processed", r.DealsProcessed),
		slog.Int("new_interactions", r.NewInteractions),
		slog.Int("commented_deals", r.CommentedDeals),
		slog.Int("comments_added", r.CommentsAdded),
		slog.Int("field_updates", r.FieldUpdates),
		slog.Int("updates_rejected", r.UpdatesRejected),
		slog.Int("errors", r.Errors),
		slog.Duration("duration", r.Duration),
	)
}
