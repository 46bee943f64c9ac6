package prompt

import (
	"fmt"

	"github.com/tenex-chat/tenex/pkg/models"
)

// Tool output budgeting thresholds. Small results are always inlined;
// large results tolerate less burial before being truncated.
const (
	// NeverTruncate is the size below which results are always inlined.
	NeverTruncate = 1000

	// Large is the size above which the stricter burial limit applies.
	Large = 10_000

	// LargeBurialLimit is the burial depth at which large results are
	// truncated.
	LargeBurialLimit = 3

	// SmallBurialLimit is the burial depth at which mid-size results are
	// truncated.
	SmallBurialLimit = 6
)

// BudgetToolResults decides whether the tool results at one message
// position are inlined verbatim, replaced by a retrieval reference, or
// omitted outright. The decision depends only on the total output size,
// the burial depth, and whether a retrieval id is available.
func BudgetToolResults(results []models.ToolResult, currentIndex, totalMessages int, retrievalEventID string) []models.ToolResult {
	if len(results) == 0 {
		return results
	}
	size := 0
	for _, r := range results {
		size += r.Size()
	}
	if size < NeverTruncate {
		return results
	}

	limit := SmallBurialLimit
	if size > Large {
		limit = LargeBurialLimit
	}
	burialDepth := totalMessages - currentIndex - 1
	if burialDepth < limit {
		return results
	}

	out := make([]models.ToolResult, len(results))
	for i, r := range results {
		replaced := r
		if retrievalEventID != "" {
			replaced.Content = fmt.Sprintf(
				"[Tool executed, %d chars output truncated. Use fs_read(tool=%q) to retrieve full output if needed]",
				size, retrievalEventID)
		} else {
			// Emergency content guard: no reference exists, so the
			// output can only be dropped.
			replaced.Content = fmt.Sprintf(
				"[Tool output omitted to save context (%d chars) - no reference available for retrieval]",
				size)
		}
		out[i] = replaced
	}
	return out
}

// BudgetMessages applies BudgetToolResults to every message in a prompt
// stream, position by position. retrievalID maps a message index to the
// tool event id usable for retrieval, when one exists.
func BudgetMessages(messages []models.Message, retrievalID func(i int) string) []models.Message {
	total := len(messages)
	out := make([]models.Message, total)
	for i, msg := range messages {
		if len(msg.ToolResults) > 0 {
			var ref string
			if retrievalID != nil {
				ref = retrievalID(i)
			}
			msg.ToolResults = BudgetToolResults(msg.ToolResults, i, total, ref)
		}
		out[i] = msg
	}
	return out
}
