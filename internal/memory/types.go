package memory

import (
	"context"
	"errors"
	"strings"
	"time"
)

// SyncState tracks whether the remote graph mirror is known to hold a record's
// current content. Only the mirror package changes it.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
	SyncFailed  SyncState = "failed"
)

// GeneralTopic is assigned when no topic rule matches.
const GeneralTopic = "general"

var (
	ErrNotFound = errors.New("memory not found")
	// ErrDuplicate is returned by a Backend when a store-level uniqueness
	// constraint on (owner, lower(content)) rejects a write.
	ErrDuplicate  = errors.New("duplicate memory content")
	ErrValidation = errors.New("invalid memory input")
)

// Record is a single memory about a user.
type Record struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Content     string    `json:"content"`
	Topics      []string  `json:"topics"`
	Confidence  float64   `json:"confidence"`
	IsProxy     bool      `json:"is_proxy"`
	ProxySource string    `json:"proxy_source,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	SyncState   SyncState `json:"sync_state"`
}

func (r Record) clone() Record {
	out := r
	out.Topics = append([]string(nil), r.Topics...)
	return out
}

// HasTopic reports whether the record carries topic (case-insensitive).
func (r Record) HasTopic(topic string) bool {
	for _, t := range r.Topics {
		if equalFold(t, topic) {
			return true
		}
	}
	return false
}

// Scored pairs a record with its search score.
type Scored struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

// Backend persists records. Implementations must be safe for concurrent use;
// duplicate detection and write serialization live in Engine.
type Backend interface {
	Insert(ctx context.Context, rec Record) error
	Replace(ctx context.Context, rec Record) error
	Remove(ctx context.Context, ownerID string, ids []string) ([]string, error)
	List(ctx context.Context, ownerID string) ([]Record, error)
	Get(ctx context.Context, ownerID, id string) (Record, error)
	SetSyncState(ctx context.Context, ownerID, id string, state SyncState) error
	Owners(ctx context.Context) ([]string, error)
	Close() error
}

// NewStore opens the Postgres backend when databaseURL is set. Without one,
// records live in process memory and are lost on restart.
func NewStore(ctx context.Context, databaseURL string) (Backend, error) {
	if databaseURL = strings.TrimSpace(databaseURL); databaseURL != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	return NewInMemoryStore(), nil
}
