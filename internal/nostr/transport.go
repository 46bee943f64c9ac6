// Package nostr defines the signed-event transport surface the runtime
// consumes, plus a minimal relay client and an in-memory transport for
// tests and offline runs. The engine itself depends only on the
// interfaces in this file.
package nostr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/tenex-chat/tenex/pkg/models"
)

var (
	// ErrNotFound is returned when a referenced event cannot be resolved.
	ErrNotFound = errors.New("nostr: event not found")

	// ErrNotConnected is returned when the relay connection is down.
	ErrNotConnected = errors.New("nostr: not connected")
)

// Filter selects events from the transport. Zero fields match anything.
type Filter struct {
	IDs     []string           `json:"ids,omitempty"`
	Authors []string           `json:"authors,omitempty"`
	Kinds   []models.EventKind `json:"kinds,omitempty"`
	PTags   []string           `json:"#p,omitempty"`
	ETags   []string           `json:"#e,omitempty"`
	Since   int64              `json:"since,omitempty"`
	Limit   int                `json:"limit,omitempty"`
}

// Matches reports whether an event satisfies the filter.
func (f Filter) Matches(e *models.Event) bool {
	if len(f.IDs) > 0 && !contains(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, e.Pubkey) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if e.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.PTags) > 0 && !intersects(f.PTags, e.PTags()) {
		return false
	}
	if len(f.ETags) > 0 && !intersects(f.ETags, e.TagValues(models.TagParent)) {
		return false
	}
	if f.Since > 0 && e.CreatedAt < f.Since {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}

// Publisher sends events to the transport.
type Publisher interface {
	Publish(ctx context.Context, ev *models.Event) error
}

// Fetcher resolves a single event by reference. The ref is either a raw
// event id or a bech32-style entity string; implementations may support
// a subset and return ErrNotFound for the rest.
type Fetcher interface {
	FetchEvent(ctx context.Context, ref string) (*models.Event, error)
}

// Subscriber delivers events matching a filter until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, f Filter) (<-chan *models.Event, error)
}

// Transport groups the full surface the runtime consumes.
type Transport interface {
	Publisher
	Fetcher
	Subscriber
}

// Signer attaches an identity to outbound events. The runtime treats
// signatures as opaque; real key handling lives outside this module.
type Signer interface {
	// Pubkey returns the hex public key of this identity.
	Pubkey() string

	// Sign fills in the event id (and signature when available).
	Sign(ev *models.Event) error
}

// LocalSigner is a development signer that derives the event id from a
// canonical serialization and leaves the signature empty.
type LocalSigner struct {
	PublicKey string
}

// Pubkey implements Signer.
func (s *LocalSigner) Pubkey() string { return s.PublicKey }

// Sign implements Signer.
func (s *LocalSigner) Sign(ev *models.Event) error {
	ev.Pubkey = s.PublicKey
	payload, err := json.Marshal([]any{0, ev.Pubkey, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content})
	if err != nil {
		return err
	}
	sum := sha256.Sum256(payload)
	ev.ID = hex.EncodeToString(sum[:])
	return nil
}
