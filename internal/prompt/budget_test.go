package prompt

import (
	"strings"
	"testing"

	"github.com/tenex-chat/tenex/pkg/models"
)

func result(size int) []models.ToolResult {
	return []models.ToolResult{{
		ToolCallID: "tc1",
		ToolName:   "shell",
		Content:    strings.Repeat("x", size),
	}}
}

func TestBudgetToolResults(t *testing.T) {
	tests := []struct {
		name         string
		size         int
		currentIndex int
		total        int
		retrievalID  string
		wantVerbatim bool
		wantContains string
	}{
		{
			name:         "small results always inline",
			size:         999,
			currentIndex: 0,
			total:        100,
			retrievalID:  "ev1",
			wantVerbatim: true,
		},
		{
			name:         "shallow burial inlines",
			size:         1500,
			currentIndex: 10,
			total:        16, // burialDepth 5 < SmallBurialLimit 6
			retrievalID:  "ev1",
			wantVerbatim: true,
		},
		{
			name:         "deep burial truncates with reference",
			size:         1500,
			currentIndex: 10,
			total:        17, // burialDepth 6
			retrievalID:  "ev1",
			wantContains: `1500 chars output truncated. Use fs_read(tool="ev1")`,
		},
		{
			name:         "deep burial without reference omits",
			size:         1500,
			currentIndex: 10,
			total:        17,
			wantContains: "omitted to save context (1500 chars)",
		},
		{
			name:         "large results truncate at shallower burial",
			size:         20000,
			currentIndex: 10,
			total:        14, // burialDepth 3 == LargeBurialLimit
			retrievalID:  "ev1",
			wantContains: "20000 chars output truncated",
		},
		{
			name:         "large results still inline when very recent",
			size:         20000,
			currentIndex: 10,
			total:        13, // burialDepth 2 < LargeBurialLimit
			retrievalID:  "ev1",
			wantVerbatim: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := result(tt.size)
			got := BudgetToolResults(in, tt.currentIndex, tt.total, tt.retrievalID)
			if tt.wantVerbatim {
				if got[0].Content != in[0].Content {
					t.Errorf("expected verbatim content, got %q", truncateForLog(got[0].Content))
				}
				return
			}
			if got[0].Content == in[0].Content {
				t.Fatal("expected replacement, content kept verbatim")
			}
			if !strings.Contains(got[0].Content, tt.wantContains) {
				t.Errorf("placeholder %q does not contain %q", got[0].Content, tt.wantContains)
			}
		})
	}
}

// Increasing burial depth must never flip a truncated result back to
// verbatim, and crossing the large threshold lowers the burial limit.
func TestBudgetMonotonicity(t *testing.T) {
	const total = 50
	truncatedAt := -1
	for idx := total - 1; idx >= 0; idx-- {
		got := BudgetToolResults(result(1500), idx, total, "ev1")
		truncated := strings.Contains(got[0].Content, "truncated")
		if truncated && truncatedAt == -1 {
			truncatedAt = idx
		}
		if !truncated && truncatedAt != -1 && idx < truncatedAt {
			t.Fatalf("result at deeper burial (index %d) inlined after truncation at index %d", idx, truncatedAt)
		}
	}

	// A mid-size result survives burial depths where a large one is
	// already truncated.
	midIdx := total - 1 - 4 // burialDepth 4
	mid := BudgetToolResults(result(1500), midIdx, total, "ev1")
	large := BudgetToolResults(result(20000), midIdx, total, "ev1")
	if strings.Contains(mid[0].Content, "truncated") {
		t.Error("mid-size result should survive burial depth 4")
	}
	if !strings.Contains(large[0].Content, "truncated") {
		t.Error("large result should be truncated at burial depth 4")
	}
}

func TestBudgetSafetyWithoutReference(t *testing.T) {
	got := BudgetToolResults(result(50000), 0, 50, "")
	if strings.Contains(got[0].Content, strings.Repeat("x", 100)) {
		t.Error("without a retrieval id the output must still be replaced")
	}
	if !strings.Contains(got[0].Content, "no reference available") {
		t.Errorf("placeholder = %q", got[0].Content)
	}
}

func TestBudgetMultiPartSharedDecision(t *testing.T) {
	parts := []models.ToolResult{
		{ToolCallID: "tc1", Content: strings.Repeat("a", 800)},
		{ToolCallID: "tc2", Content: strings.Repeat("b", 800)},
	}
	// Combined size 1600 exceeds NeverTruncate; both parts replaced.
	got := BudgetToolResults(parts, 0, 50, "ev1")
	for i, r := range got {
		if !strings.Contains(r.Content, "1600 chars output truncated") {
			t.Errorf("part %d = %q, want shared total size in placeholder", i, r.Content)
		}
	}
}

func TestBudgetMessages(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "question"},
		{Role: models.RoleAssistant, ToolResults: result(1500)},
	}
	// Pad so the tool message is deeply buried.
	for i := 0; i < 10; i++ {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: "filler"})
	}

	got := BudgetMessages(messages, func(i int) string {
		if i == 1 {
			return "ev42"
		}
		return ""
	})
	if !strings.Contains(got[1].ToolResults[0].Content, `fs_read(tool="ev42")`) {
		t.Errorf("tool results not budgeted: %q", got[1].ToolResults[0].Content)
	}
	if got[0].Content != "question" {
		t.Error("non-tool messages must pass through unchanged")
	}
}

func truncateForLog(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
