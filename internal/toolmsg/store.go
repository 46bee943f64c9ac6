// Package toolmsg is the durable side-channel mapping a tool-call event
// id to the full structured tool messages produced during that call.
// Tool events on the transport carry only a summary; replaying a
// conversation for the calling agent loads the originals from here.
package toolmsg

import (
	"context"
	"errors"

	"github.com/tenex-chat/tenex/pkg/models"
)

// ErrNotFound is returned when no messages are stored for an event id.
var ErrNotFound = errors.New("toolmsg: not found")

// Store persists tool messages keyed by event id. Entries are
// append-only: one writer per id, reads are safe afterwards.
type Store interface {
	// Save records the messages for a tool event id.
	Save(ctx context.Context, eventID string, messages []models.Message) error

	// Load returns the messages for a tool event id.
	Load(ctx context.Context, eventID string) ([]models.Message, error)
}
