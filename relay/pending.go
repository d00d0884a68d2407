package relay

import (
	"sync"
	"time"
)

// PendingSave is the transient record of a Save activation, held until the activating
// user sends their folder-name reply.
type PendingSave struct {
	AuthorID   int64
	AuthorName string
	Content    string
	ChannelID  int64
	MessageID  int64
	GuildID    int64

	// RegisteredAt is informational; entries never expire and survive until
	// consumed or process restart.
	RegisteredAt time.Time
}

// PendingRegistry tracks at most one outstanding save request per user. It is owned by
// the Pipeline and lives only as long as the process; nothing is persisted.
type PendingRegistry struct {
	mu      sync.Mutex
	pending map[int64]PendingSave
}

func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{pending: make(map[int64]PendingSave)}
}

// Register records a pending save for userID, unconditionally replacing any prior
// entry (last write wins; a double-click discards the first target).
func (r *PendingRegistry) Register(userID int64, p PendingSave) {
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.pending[userID] = p
	r.mu.Unlock()
}

// Consume atomically removes and returns the pending entry for userID.
// The second return is false when no entry exists.
func (r *PendingRegistry) Consume(userID int64) (PendingSave, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[userID]
	if ok {
		delete(r.pending, userID)
	}
	return p, ok
}

// Len reports the number of outstanding entries (used by /api/status).
func (r *PendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
