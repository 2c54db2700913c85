package bitrix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// IntString is an integer that Bitrix serializes inconsistently: some
// endpoints return `34`, others `"34"`. It unmarshals from either form.
type IntString int

func (n *IntString) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)

	v, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("bitrix: parsing integer %q: %w", data, err)
	}

	*n = IntString(v)

	return nil
}

// Category is one CRM pipeline (deal category).
type Category struct {
	ID   IntString `json:"ID"`
	Name string    `json:"NAME"`
}

// Deal is one CRM business record as returned by crm.deal.list. The Title
// doubles as the order key joining the deal to the external order system.
type Deal struct {
	ID              string    `json:"ID"`
	Title           string    `json:"TITLE"`
	StageID         string    `json:"STAGE_ID"`
	StageSemanticID string    `json:"STAGE_SEMANTIC_ID"`
	CategoryID      IntString `json:"CATEGORY_ID"`
}

// DealPage is one page of a crm.deal.list result. Total is the full
// filtered count as reported by the server for this page; it can drift
// between pages under concurrent external mutation.
type DealPage struct {
	Deals []Deal
	Total int
}

// apiEnvelope is the common Bitrix REST response wrapper. Result is left
// raw because its shape depends on the method (array, bool, or integer).
type apiEnvelope struct {
	Result           json.RawMessage `json:"result"`
	Total            int             `json:"total"`
	ErrorCode        string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}
