package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// Stage semantic codes for closed deals. Deals in either state are
// finished business and excluded from processing.
const (
	StageSemanticWon  = "S"
	StageSemanticLost = "F"
)

// dealListSelect is the field projection for crm.deal.list. TITLE carries
// the order key, so it is the one field the engine cannot work without.
var dealListSelect = []string{"ID", "TITLE", "STAGE_ID", "STAGE_SEMANTIC_ID", "CATEGORY_ID"}

// Categories lists all deal categories (pipelines) with their IDs, via
// crm.dealcategory.list. Used for operator visibility; callers treat a
// failure as non-fatal.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	env, err := c.call(ctx, http.MethodGet, "crm.dealcategory.list", nil, nil)
	if err != nil {
		return nil, err
	}

	var categories []Category
	if err := json.Unmarshal(env.Result, &categories); err != nil {
		return nil, fmt.Errorf("bitrix: decoding category list: %w", err)
	}

	c.logger.Debug("listed deal categories", slog.Int("count", len(categories)))

	return categories, nil
}

// Deals fetches one page of open deals in the given pipeline via
// crm.deal.list, excluding won and lost stages. The caller drives
// pagination: advance start by the number of deals returned and stop once
// start reaches the page's Total.
func (c *Client) Deals(ctx context.Context, categoryID, start int) (*DealPage, error) {
	query := url.Values{}
	query.Set("filter[CATEGORY_ID]", strconv.Itoa(categoryID))
	query.Set("filter[!STAGE_SEMANTIC_ID][0]", StageSemanticWon)
	query.Set("filter[!STAGE_SEMANTIC_ID][1]", StageSemanticLost)

	for i, field := range dealListSelect {
		query.Set(fmt.Sprintf("select[%d]", i), field)
	}

	query.Set("start", strconv.Itoa(start))

	env, err := c.call(ctx, http.MethodGet, "crm.deal.list", query, nil)
	if err != nil {
		return nil, err
	}

	var deals []Deal
	if err := json.Unmarshal(env.Result, &deals); err != nil {
		return nil, fmt.Errorf("bitrix: decoding deal list: %w", err)
	}

	c.logger.Debug("fetched deal page",
		slog.Int("category_id", categoryID),
		slog.Int("start", start),
		slog.Int("count", len(deals)),
		slog.Int("total", env.Total),
	)

	return &DealPage{Deals: deals, Total: env.Total}, nil
}
