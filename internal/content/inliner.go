package content

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/tenex-chat/tenex/pkg/models"
)

// entityRe matches nostr entity references embedded in prompt text.
var entityRe = regexp.MustCompile(`nostr:(?:nevent1|naddr1|note1|npub1|nprofile1)[a-zA-Z0-9]+`)

// EventFetcher resolves an entity reference to its event through the
// transport. Implementations are expected to be safe for concurrent use.
type EventFetcher interface {
	FetchEvent(ctx context.Context, ref string) (*models.Event, error)
}

// Inliner replaces embedded entity references with the content of the
// referenced events. Fetch failures leave the token untouched; they are
// logged and never fail the caller.
type Inliner struct {
	fetcher EventFetcher
	logger  *slog.Logger
}

// NewInliner creates an inliner over the given fetcher.
func NewInliner(fetcher EventFetcher, logger *slog.Logger) *Inliner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inliner{fetcher: fetcher, logger: logger}
}

// Inline resolves every entity reference in text. Fetches run
// independently; a failed fetch does not cancel its siblings.
func (i *Inliner) Inline(ctx context.Context, text string) string {
	if i.fetcher == nil {
		return text
	}
	tokens := entityRe.FindAllString(text, -1)
	if len(tokens) == 0 {
		return text
	}

	seen := make(map[string]struct{}, len(tokens))
	unique := tokens[:0]
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		unique = append(unique, tok)
	}

	var mu sync.Mutex
	replacements := make(map[string]string, len(unique))
	var wg sync.WaitGroup
	for _, tok := range unique {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			ref := strings.TrimPrefix(tok, "nostr:")
			ev, err := i.fetcher.FetchEvent(ctx, ref)
			if err != nil || ev == nil {
				i.logger.Warn("failed to inline entity reference",
					"entity", tok, "error", err)
				return
			}
			mu.Lock()
			replacements[tok] = fmt.Sprintf("<nostr-event entity=%q>%s</nostr-event>", tok, ev.Content)
			mu.Unlock()
		}(tok)
	}
	wg.Wait()

	if len(replacements) == 0 {
		return text
	}
	// Longer tokens first so a token that prefixes another never
	// clobbers it.
	toks := make([]string, 0, len(replacements))
	for tok := range replacements {
		toks = append(toks, tok)
	}
	sort.Slice(toks, func(a, b int) bool { return len(toks[a]) > len(toks[b]) })
	pairs := make([]string, 0, len(toks)*2)
	for _, tok := range toks {
		pairs = append(pairs, tok, replacements[tok])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
