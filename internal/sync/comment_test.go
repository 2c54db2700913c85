package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paulohaalves-github/update-bitrix/internal/gspn"
)

func TestFormatDate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"normal", "20260815", "15-08-2026"},
		{"too short", "202608", "202608"},
		{"empty", "", ""},
		{"placeholder passes through", "00000000", "00-00-0000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDate(tt.in))
		})
	}
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"normal", "093045", "09:30:45"},
		{"midnight", "000000", "00:00:00"},
		{"too short", "0930", "0930"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatClock(tt.in))
		})
	}
}

func TestCommentBody(t *testing.T) {
	row := gspn.LogRow{
		SeqNo:            3,
		ChangedDate:      "20260815",
		ChangedTime:      "141500",
		ChangedBy:        "tech2",
		Comment:          "replaced mainboard",
		StatusDesc:       "Repair Completed",
		StatusReasonDesc: "Part replaced",
	}

	body := commentBody(row)
	assert.Contains(t, body, "15-08-2026 14:15:00")
	assert.Contains(t, body, "tech2")
	assert.Contains(t, body, "replaced mainboard")
	assert.Contains(t, body, "Repair Completed - Part replaced")
}

func TestCommentBody_Fallbacks(t *testing.T) {
	row := gspn.LogRow{
		ChangedDate: "20260815",
		ChangedTime: "093045",
		ChangedBy:   "sys",
		StatusDesc:  "Received",
	}

	body := commentBody(row)
	assert.Contains(t, body, noComment)
	assert.Contains(t, body, "STATUS ATUALIZADO: Received")
	assert.NotContains(t, body, " - ", "no reason suffix without a status reason")
}
