// Package session holds short-lived per-chat processing state while the
// bot waits for the user to confirm a speaker-to-name mapping. State is
// small, expendable, and expires on its own; losing it only means asking
// the user again.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// DefaultTTL matches the user_data cache domain: confirmation prompts
// older than this are stale.
const DefaultTTL = 30 * time.Minute

// State is the processing context parked while a confirmation is pending.
type State struct {
	SpeakerMapping map[string]string `json:"speaker_mapping"`
	PendingRequest json.RawMessage   `json:"pending_request,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Store is implemented by the memory backend (single instance) and the
// Redis backend (shared across replicas).
type Store interface {
	Save(ctx context.Context, chatID int64, state State) error
	Load(ctx context.Context, chatID int64) (State, bool, error)
	Clear(ctx context.Context, chatID int64) error
}

// stateKey builds the backend key for a chat.
func stateKey(chatID int64) string {
	return "session:" + strconv.FormatInt(chatID, 10)
}
