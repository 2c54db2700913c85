// Package sync orchestrates the propagation of GSPN interaction logs into
// Bitrix24: enumerate open deals per pipeline, cross-reference each deal's
// order key against the log table, and push every not-yet-propagated row
// as a timeline comment plus a field update, recording each pair in the
// ledger before the remote write.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/paulohaalves-github/update-bitrix/internal/bitrix"
	"github.com/paulohaalves-github/update-bitrix/internal/config"
	"github.com/paulohaalves-github/update-bitrix/internal/gspn"
)

// ErrPassFailed reports that a pass made no progress at all: every
// configured pipeline failed before its first page. The driver loop backs
// off on consecutive occurrences.
var ErrPassFailed = errors.New("sync: pass made no progress")

// CRM is the remote surface the engine needs from the Bitrix client.
// Defined at the consumer per "accept interfaces, return structs";
// satisfied by *bitrix.Client.
type CRM interface {
	Categories(ctx context.Context) ([]bitrix.Category, error)
	Deals(ctx context.Context, categoryID, start int) (*bitrix.DealPage, error)
	AddComment(ctx context.Context, dealID, text string) error
	UpdateDeal(ctx context.Context, dealID string, fields map[string]string) (bool, error)
}

// Source is the read-only query surface over the GSPN database.
// Satisfied by *gspn.Client. Both methods degrade to empty results on
// failure; the engine never sees a source error.
type Source interface {
	Logs(ctx context.Context, orderKey string) []gspn.LogRow
	OrderDetails(ctx context.Context, orderKey string) []gspn.OrderDetail
}

// Ledger is the durable propagation bookkeeping surface.
// Satisfied by *ledger.Store.
type Ledger interface {
	MarkPropagated(ctx context.Context, seqNo int64, orderKey string) (bool, error)
	FilterNew(ctx context.Context, rows []gspn.LogRow, orderKey string) []gspn.LogRow
}

// Engine runs one full synchronization pass at a time. All processing is
// strictly sequential; pacing toward the remote API is the client's
// token bucket, not engine-level sleeps.
type Engine struct {
	crm    CRM
	source Source
	ledger Ledger
	logger *slog.Logger

	pipelines []int
	fields    config.FieldMap
	dryRun    bool
}

// NewEngine creates an Engine. The sync file supplies the pipeline order
// and the CRM field map; both can be swapped between passes via
// SetSyncFile.
func NewEngine(crm CRM, source Source, ledger Ledger, sf *config.SyncFile, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		crm:       crm,
		source:    source,
		ledger:    ledger,
		logger:    logger,
		pipelines: sf.Pipelines,
		fields:    sf.Fields,
	}
}

// SetDryRun makes the engine report what it would do without writing to
// the ledger or the CRM.
func (e *Engine) SetDryRun(dryRun bool) {
	e.dryRun = dryRun
}

// SetSyncFile replaces the pipeline order and field map. Called by the
// driver loop between passes, never during one.
func (e *Engine) SetSyncFile(sf *config.SyncFile) {
	e.pipelines = sf.Pipelines
	e.fields = sf.Fields
}

// RunPass processes every configured pipeline once and returns the pass
// statistics. Remote and query failures are contained at per-pipeline,
// per-deal, or per-row scope; the returned error is non-nil only when the
// context was canceled or the pass made no progress at all.
func (e *Engine) RunPass(ctx context.Context) (*PassReport, error) {
	start := time.Now()
	report := &PassReport{}

	// Informational only: gives the operator the pipeline-name to ID
	// mapping in the logs. A failure here never aborts the pass.
	if categories, err := e.crm.Categories(ctx); err != nil {
		e.logger.Warn("listing pipelines failed", slog.String("error", err.Error()))
	} else {
		for _, cat := range categories {
			e.logger.Info("pipeline available", slog.Int("category_id", int(cat.ID)), slog.String("name", cat.Name))
		}
	}

	failedPipelines := 0

	for _, pipeline := range e.pipelines {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		deals, ok := e.collectDeals(ctx, pipeline, report)
		if !ok {
			failedPipelines++
			continue
		}

		e.logger.Info("processing pipeline",
			slog.Int("category_id", pipeline),
			slog.Int("deals", len(deals)),
		)

		report.TotalDeals += len(deals)

		for i, deal := range deals {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}

			e.logger.Info("processing deal",
				slog.Int("position", i+1),
				slog.Int("of", len(deals)),
				slog.String("deal_id", deal.ID),
				slog.String("order_key", deal.Title),
			)

			e.processDeal(ctx, deal, report)
		}
	}

	report.Duration = time.Since(start)

	if len(e.pipelines) > 0 && failedPipelines == len(e.pipelines) {
		return report, ErrPassFailed
	}

	return report, nil
}

// collectDeals pages through crm.deal.list for one pipeline until the
// cumulative offset reaches the reported total. The total is re-read from
// every page: if it drifts under concurrent mutation the most recent
// value wins, and any over- or under-fetch is corrected on the next pass.
// A page error stops pagination but keeps the rows already fetched; ok is
// false only when the very first page failed.
func (e *Engine) collectDeals(ctx context.Context, pipeline int, report *PassReport) (deals []bitrix.Deal, ok bool) {
	var start int

	for {
		page, err := e.crm.Deals(ctx, pipeline, start)
		if err != nil {
			e.logger.Error("listing deals failed",
				slog.Int("category_id", pipeline),
				slog.Int("start", start),
				slog.String("error", err.Error()),
			)
			report.Errors++

			return deals, start > 0
		}

		deals = append(deals, page.Deals...)
		start += len(page.Deals)

		e.logger.Debug("deal page loaded",
			slog.Int("category_id", pipeline),
			slog.Int("loaded", start),
			slog.Int("total", page.Total),
		)

		if start >= page.Total || len(page.Deals) == 0 {
			return deals, true
		}
	}
}

// processDeal propagates all new log rows for one deal. Every failure is
// contained here: one bad deal never aborts the rest of the pass.
func (e *Engine) processDeal(ctx context.Context, deal bitrix.Deal, report *PassReport) {
	logs := e.source.Logs(ctx, deal.Title)
	details := e.source.OrderDetails(ctx, deal.Title)

	if len(logs) == 0 {
		e.logger.Info("no log entries for deal", slog.String("deal_id", deal.ID))
		report.DealsProcessed++

		return
	}

	fresh := e.ledger.FilterNew(ctx, logs, deal.Title)

	e.logger.Info("interactions filtered",
		slog.String("deal_id", deal.ID),
		slog.Int("new", len(fresh)),
		slog.Int("total", len(logs)),
	)

	report.DealsProcessed++
	report.NewInteractions += len(fresh)

	if len(fresh) == 0 {
		return
	}

	// The join can fan out; the first row is authoritative. Known
	// limitation when it legitimately returns distinct detail rows.
	var detail *gspn.OrderDetail
	if len(details) > 0 {
		detail = &details[0]

		if len(details) > 1 {
			e.logger.Debug("detail join fanned out",
				slog.String("order_key", deal.Title),
				slog.Int("rows", len(details)),
			)
		}
	}

	commented := 0

	for _, row := range fresh {
		if e.propagateRow(ctx, deal, row, detail, report) {
			commented++
		}
	}

	if commented > 0 {
		report.CommentedDeals++
	}
}

// propagateRow records one log row in the ledger and mirrors it to the
// CRM as a comment plus a field update. The ledger write comes first: a
// crash between it and the remote write loses at most this one comment,
// and never double-records bookkeeping. Reports whether the comment
// landed.
func (e *Engine) propagateRow(ctx context.Context, deal bitrix.Deal, row gspn.LogRow, detail *gspn.OrderDetail, report *PassReport) bool {
	if e.dryRun {
		e.logger.Info("dry-run: would propagate interaction",
			slog.Int64("seq_no", row.SeqNo),
			slog.String("deal_id", deal.ID),
		)

		return false
	}

	if _, err := e.ledger.MarkPropagated(ctx, row.SeqNo, deal.Title); err != nil {
		// Forward progress over strict consistency: the remote write
		// still happens, risking a duplicate comment next pass if the
		// record never persisted.
		e.logger.Error("recording interaction failed",
			slog.Int64("seq_no", row.SeqNo),
			slog.String("order_key", deal.Title),
			slog.String("error", err.Error()),
		)
	}

	if err := e.crm.AddComment(ctx, deal.ID, commentBody(row)); err != nil {
		e.logger.Error("adding comment failed",
			slog.Int64("seq_no", row.SeqNo),
			slog.String("deal_id", deal.ID),
			slog.String("error", err.Error()),
		)
		report.Errors++

		// A failed comment suppresses the field update for this row.
		return false
	}

	report.CommentsAdded++

	acknowledged, err := e.crm.UpdateDeal(ctx, deal.ID, e.buildFields(row, detail))
	report.FieldUpdates++

	switch {
	case err != nil:
		e.logger.Error("updating deal failed",
			slog.String("deal_id", deal.ID),
			slog.String("error", err.Error()),
		)
		report.Errors++
	case !acknowledged:
		report.UpdatesRejected++
	}

	return true
}

// buildFields assembles the crm.deal.update payload from the field map.
// Status and substatus come from the log row itself, everything else from
// the order detail. Unmapped attributes are omitted.
func (e *Engine) buildFields(row gspn.LogRow, detail *gspn.OrderDetail) map[string]string {
	fields := make(map[string]string)

	put := func(fieldID, value string) {
		if fieldID != "" {
			fields[fieldID] = value
		}
	}

	put(e.fields.Status, row.StatusDesc)
	put(e.fields.Substatus, row.StatusReasonDesc)

	if detail != nil {
		put(e.fields.JobNo, detail.AscJobNo)
		put(e.fields.ServiceType, detail.ServiceTypeDesc)
		put(e.fields.WarrantyType, detail.WarrantyType)
		put(e.fields.Product, detail.Product)
		put(e.fields.IrisRepair, detail.IrisRepair)
		put(e.fields.WarrantyException, detail.WarrantyException)
		put(e.fields.CompleteDate, detail.CompleteDate)
		put(e.fields.Model, detail.Model)
		put(e.fields.SerialNo, detail.SerialNo)
		put(e.fields.DefectDesc, detail.DefectDesc)
	}

	return fields
}
