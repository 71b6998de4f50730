package mirror

import (
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/mnemo/internal/memory"
)

type EventType string

const (
	EventStored  EventType = "memory.stored"
	EventUpdated EventType = "memory.updated"
	EventDeleted EventType = "memory.deleted"
	EventSync    EventType = "memory.sync"
)

type Event struct {
	Type      EventType        `json:"type"`
	OwnerID   string           `json:"owner_id"`
	MemoryID  string           `json:"memory_id"`
	Content   string           `json:"content,omitempty"`
	Topics    []string         `json:"topics,omitempty"`
	SyncState memory.SyncState `json:"sync_state,omitempty"`
	Detail    string           `json:"detail,omitempty"`
	At        time.Time        `json:"at"`
}

const defaultEventHistoryLimit = 200

// Hub fans memory events out to per-owner subscribers and keeps a short
// per-owner history for late joiners.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[int]chan Event
	nextSubID   int
	history     map[string][]Event
	historyMax  int
}

func NewHub(historyMax int) *Hub {
	if historyMax <= 0 {
		historyMax = defaultEventHistoryLimit
	}
	return &Hub{
		subscribers: make(map[string]map[int]chan Event),
		history:     make(map[string][]Event),
		historyMax:  historyMax,
	}
}

func (h *Hub) Subscribe(ownerID string) (<-chan Event, func()) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 256)
	h.mu.Lock()
	h.nextSubID++
	id := h.nextSubID
	if _, ok := h.subscribers[ownerID]; !ok {
		h.subscribers[ownerID] = make(map[int]chan Event)
	}
	h.subscribers[ownerID][id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[ownerID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(h.subscribers, ownerID)
		}
	}
}

// Publish never blocks; a subscriber with a full buffer misses the event.
// A deleted event carries no content and scrubs the memory's content from
// the owner's history.
func (h *Hub) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	hist := h.history[evt.OwnerID]
	if evt.Type == EventDeleted {
		evt.Content, evt.Topics = "", nil
		for i := range hist {
			if hist[i].MemoryID == evt.MemoryID {
				hist[i].Content, hist[i].Topics = "", nil
			}
		}
	}
	hist = append(hist, evt)
	if len(hist) > h.historyMax {
		hist = append([]Event(nil), hist[len(hist)-h.historyMax:]...)
	}
	h.history[evt.OwnerID] = hist

	for _, ch := range h.subscribers[evt.OwnerID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// History returns the owner's most recent events, oldest first.
func (h *Hub) History(ownerID string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.history[ownerID]...)
}

// Forget drops the owner's history.
func (h *Hub) Forget(ownerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.history, ownerID)
}
