package sync

import (
	"fmt"
	"strings"

	"github.com/paulohaalves-github/update-bitrix/internal/gspn"
)

// noComment is the fallback body when a log row carries no comment text.
// The CRM comments are read by Brazilian operators, so the user-visible
// strings stay in Portuguese.
const noComment = "Sem comentário"

// formatDate converts a GSPN 8-digit date (YYYYMMDD) to DD-MM-YYYY.
// Values that are not 8 digits pass through unchanged rather than being
// rejected: the source occasionally carries placeholder dates and the
// comment should show what the system of record has.
func formatDate(s string) string {
	if len(s) != 8 {
		return s
	}

	return s[6:8] + "-" + s[4:6] + "-" + s[0:4]
}

// formatClock converts a GSPN 6-digit time (HHMMSS) to HH:MM:SS.
func formatClock(s string) string {
	if len(s) != 6 {
		return s
	}

	return s[0:2] + ":" + s[2:4] + ":" + s[4:6]
}

// commentBody renders one log row as the timeline comment posted to the
// deal.
func commentBody(row gspn.LogRow) string {
	comment := row.Comment
	if comment == "" {
		comment = noComment
	}

	var b strings.Builder

	b.WriteString("Interação relacionada a este negócio no GSPN:\n\n")
	fmt.Fprintf(&b, "📅 HORA: %s %s\n", formatDate(row.ChangedDate), formatClock(row.ChangedTime))
	fmt.Fprintf(&b, "👤 %s\n", row.ChangedBy)
	fmt.Fprintf(&b, "📝 %s\n", comment)
	fmt.Fprintf(&b, "🔄 STATUS ATUALIZADO: %s", row.StatusDesc)

	if row.StatusReasonDesc != "" {
		fmt.Fprintf(&b, " - %s", row.StatusReasonDesc)
	}

	return b.String()
}
