package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Fake is an in-process graph service for tests and the "mock" graph mode.
// It implements Factory; every opened client shares the same documents.
type Fake struct {
	mu        sync.Mutex
	docs      map[string]map[string]Document
	failNext  map[string]int
	failAll   error
	calls     map[string]int
	openCount int
	open      int
}

var ErrInjected = errors.New("injected graph failure")

func NewFake() *Fake {
	return &Fake{
		docs:     make(map[string]map[string]Document),
		failNext: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next n calls of op ("upsert", "delete", "list", "query")
// fail with ErrInjected.
func (f *Fake) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[op] = n
}

// SetDown makes every call fail with err until called again with nil.
func (f *Fake) SetDown(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = err
}

// Calls reports how many times op was attempted.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Opened reports how many clients were ever opened.
func (f *Fake) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCount
}

// OpenClients reports clients opened but not yet closed.
func (f *Fake) OpenClients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Put stores a document directly, bypassing failure injection.
func (f *Fake) Put(doc Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked(doc)
}

// Document returns the stored document, if any.
func (f *Fake) Document(ownerID, id string) (Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[ownerID][id]
	return d, ok
}

func (f *Fake) Open(context.Context) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCount++
	f.open++
	return &fakeClient{fake: f}, nil
}

func (f *Fake) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if f.failAll != nil {
		return f.failAll
	}
	if f.failNext[op] > 0 {
		f.failNext[op]--
		return ErrInjected
	}
	return nil
}

func (f *Fake) putLocked(doc Document) {
	owned := f.docs[doc.OwnerID]
	if owned == nil {
		owned = make(map[string]Document)
		f.docs[doc.OwnerID] = owned
	}
	doc.Topics = append([]string(nil), doc.Topics...)
	owned[doc.ID] = doc
}

func (f *Fake) upsert(doc Document) error {
	if err := f.enter("upsert"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked(doc)
	return nil
}

func (f *Fake) remove(ownerID, id string) error {
	if err := f.enter("delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs[ownerID], id)
	return nil
}

func (f *Fake) listIDs(ownerID string) ([]string, error) {
	if err := f.enter("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.docs[ownerID]))
	for id := range f.docs[ownerID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// query scores documents by the share of query words they contain.
func (f *Fake) query(req QueryRequest) ([]Hit, error) {
	if err := f.enter("query"); err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(req.Text))
	f.mu.Lock()
	defer f.mu.Unlock()
	hits := make([]Hit, 0)
	for _, d := range f.docs[req.OwnerID] {
		if len(words) == 0 {
			break
		}
		content := strings.ToLower(d.Content)
		matched := 0
		for _, w := range words {
			if strings.Contains(content, w) {
				matched++
			}
		}
		if matched > 0 {
			hits = append(hits, Hit{ID: d.ID, Content: d.Content, Score: float64(matched) / float64(len(words))})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if req.TopK > 0 && len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	return hits, nil
}

type fakeClient struct {
	fake   *Fake
	closed bool
}

func (c *fakeClient) Upsert(_ context.Context, doc Document) error { return c.fake.upsert(doc) }

func (c *fakeClient) Delete(_ context.Context, ownerID, id string) error {
	return c.fake.remove(ownerID, id)
}

func (c *fakeClient) ListIDs(_ context.Context, ownerID string) ([]string, error) {
	return c.fake.listIDs(ownerID)
}

func (c *fakeClient) Query(_ context.Context, req QueryRequest) ([]Hit, error) {
	return c.fake.query(req)
}

func (c *fakeClient) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.fake.mu.Lock()
	c.fake.open--
	c.fake.mu.Unlock()
	return nil
}

// Handler serves the fake over the same HTTP contract HTTPFactory speaks.
func (f *Fake) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/documents/upsert", func(w http.ResponseWriter, r *http.Request) {
		var doc Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc.ID == "" {
			http.Error(w, "invalid document", http.StatusBadRequest)
			return
		}
		if err := f.upsert(doc); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})
	r.Delete("/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("owner_id")
		id := chi.URLParam(r, "id")
		if _, ok := f.Document(ownerID, id); !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := f.remove(ownerID, id); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})
	r.Get("/documents/ids", func(w http.ResponseWriter, r *http.Request) {
		ids, err := f.listIDs(r.URL.Query().Get("owner_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"ids": ids})
	})
	r.Post("/query", func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid query", http.StatusBadRequest)
			return
		}
		hits, err := f.query(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"results": hits})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
