package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config controls duplicate detection and topic classification.
type Config struct {
	Dedup  DedupConfig
	Topics []TopicRule
	Scorer Scorer
	Shape  ShapeFunc
}

// AddRequest is the input to Engine.Add. A nil Confidence means 1.0.
type AddRequest struct {
	OwnerID     string
	Content     string
	Topics      []string
	Confidence  *float64
	IsProxy     bool
	ProxySource string
}

// SearchOptions controls Engine.Search. An empty Query with a zero
// SimilarityThreshold and SearchTopics unset returns every record, newest
// first. Limit <= 0 means no limit.
type SearchOptions struct {
	Query               string
	Limit               int
	SimilarityThreshold float64
	SearchTopics        bool
}

// Engine is the per-owner memory collection. Writes for one owner are
// serialized so two concurrent adds of the same content cannot both pass the
// duplicate check; reads never take the owner write lock.
type Engine struct {
	backend Backend
	scorer  Scorer
	topics  *TopicClassifier
	shape   ShapeFunc
	dedup   DedupConfig
	logger  *zap.Logger
	// now is truncated to microseconds so LastUpdated survives a Postgres
	// round trip unchanged.
	now func() time.Time

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

func NewEngine(backend Backend, cfg Config, logger *zap.Logger) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("memory backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dedup.FreeTextThreshold <= 0 || cfg.Dedup.StructuredThreshold <= 0 {
		cfg.Dedup = DefaultDedupConfig()
	}
	if cfg.Topics == nil {
		cfg.Topics = DefaultTopicRules()
	}
	if cfg.Scorer == nil {
		cfg.Scorer = NewLexicalScorer(DefaultScorerConfig())
	}
	if cfg.Shape == nil {
		cfg.Shape = DetectShape
	}
	topics, err := NewTopicClassifier(cfg.Topics)
	if err != nil {
		return nil, fmt.Errorf("topic rules: %w", err)
	}
	return &Engine{
		backend: backend,
		scorer:  cfg.Scorer,
		topics:  topics,
		shape:   cfg.Shape,
		dedup:   cfg.Dedup,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		owners:  make(map[string]*sync.Mutex),
	}, nil
}

func (e *Engine) ownerLock(ownerID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.owners[ownerID]
	if !ok {
		l = &sync.Mutex{}
		e.owners[ownerID] = l
	}
	return l
}

// Add validates, deduplicates and stores a memory. Rejections come back as
// an outcome with a nil error; the error is reserved for backend failures.
func (e *Engine) Add(ctx context.Context, req AddRequest) (AddOutcome, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	content := strings.TrimSpace(req.Content)
	if ownerID == "" {
		return rejectedOutcome(Rejection{Reason: ReasonValidation, Detail: "owner id is required"}), nil
	}
	if content == "" {
		return rejectedOutcome(Rejection{Reason: ReasonValidation, Detail: "content is empty"}), nil
	}
	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return rejectedOutcome(Rejection{Reason: ReasonValidation, Detail: "confidence must be within [0,1]"}), nil
	}

	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.backend.List(ctx, ownerID)
	if err != nil {
		return AddOutcome{}, fmt.Errorf("list memories: %w", err)
	}
	if rej, dup := e.findDuplicate(content, existing, ""); dup {
		e.logger.Debug("memory rejected",
			zap.String("owner_id", ownerID),
			zap.String("reason", string(rej.Reason)),
			zap.String("match_id", rej.MatchID),
			zap.Float64("score", rej.Score),
		)
		return rejectedOutcome(rej), nil
	}

	topics := normalizeTopics(req.Topics)
	if len(topics) == 0 {
		topics = e.topics.Classify(content)
	}
	now := e.now()
	rec := Record{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Content:     content,
		Topics:      topics,
		Confidence:  confidence,
		IsProxy:     req.IsProxy,
		ProxySource: strings.TrimSpace(req.ProxySource),
		CreatedAt:   now,
		LastUpdated: now,
		SyncState:   SyncPending,
	}
	if err := e.backend.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return rejectedOutcome(Rejection{Reason: ReasonExactDuplicate, Score: 1}), nil
		}
		return AddOutcome{}, fmt.Errorf("insert memory: %w", err)
	}
	return storedOutcome(rec), nil
}

// Update replaces a record's content and optionally its topics. The duplicate
// check skips the record itself. Topics are reclassified when the content
// changed and no topics were supplied.
func (e *Engine) Update(ctx context.Context, ownerID, id, content string, topics []string) (Record, error) {
	ownerID = strings.TrimSpace(ownerID)
	content = strings.TrimSpace(content)
	if ownerID == "" {
		return Record{}, &RejectedError{Rejection: Rejection{Reason: ReasonValidation, Detail: "owner id is required"}}
	}
	if content == "" {
		return Record{}, &RejectedError{Rejection: Rejection{Reason: ReasonValidation, Detail: "content is empty"}}
	}

	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.backend.List(ctx, ownerID)
	if err != nil {
		return Record{}, fmt.Errorf("list memories: %w", err)
	}
	var (
		current Record
		found   bool
	)
	for _, r := range existing {
		if r.ID == id {
			current, found = r, true
			break
		}
	}
	if !found {
		return Record{}, ErrNotFound
	}
	if rej, dup := e.findDuplicate(content, existing, id); dup {
		return Record{}, &RejectedError{Rejection: rej}
	}

	next := current.clone()
	contentChanged := next.Content != content
	next.Content = content
	if supplied := normalizeTopics(topics); len(supplied) > 0 {
		next.Topics = supplied
	} else if contentChanged {
		next.Topics = e.topics.Classify(content)
	}
	next.LastUpdated = e.now()
	next.SyncState = SyncPending
	if err := e.backend.Replace(ctx, next); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Record{}, &RejectedError{Rejection: Rejection{Reason: ReasonExactDuplicate, Score: 1}}
		}
		return Record{}, fmt.Errorf("replace memory: %w", err)
	}
	return next.clone(), nil
}

// Delete removes one record.
func (e *Engine) Delete(ctx context.Context, ownerID, id string) error {
	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	removed, err := e.backend.Remove(ctx, ownerID, []string{id})
	if err != nil {
		return fmt.Errorf("remove memory: %w", err)
	}
	if len(removed) == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByTopic removes every record carrying any of topics and returns the
// removed ids.
func (e *Engine) DeleteByTopic(ctx context.Context, ownerID string, topics []string) ([]string, error) {
	wanted := normalizeTopics(topics)
	if len(wanted) == 0 {
		return nil, fmt.Errorf("%w: at least one topic is required", ErrValidation)
	}

	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.backend.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	var ids []string
	for _, r := range existing {
		for _, t := range wanted {
			if r.HasTopic(t) {
				ids = append(ids, r.ID)
				break
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	removed, err := e.backend.Remove(ctx, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("remove memories: %w", err)
	}
	return removed, nil
}

// Clear removes every record for the owner.
func (e *Engine) Clear(ctx context.Context, ownerID string) ([]string, error) {
	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.backend.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	if len(existing) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(existing))
	for _, r := range existing {
		ids = append(ids, r.ID)
	}
	removed, err := e.backend.Remove(ctx, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("clear memories: %w", err)
	}
	e.logger.Info("memories cleared", zap.String("owner_id", ownerID), zap.Int("count", len(removed)))
	return removed, nil
}

// Search scores records against the query. See SearchOptions for the
// list-everything case.
func (e *Engine) Search(ctx context.Context, ownerID string, opts SearchOptions) ([]Scored, error) {
	records, err := e.backend.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	query := strings.TrimSpace(opts.Query)

	if query == "" && opts.SimilarityThreshold <= 0 && !opts.SearchTopics {
		sortByRecency(records)
		out := make([]Scored, 0, len(records))
		for _, r := range records {
			out = append(out, Scored{Record: r, Score: 1})
		}
		return limitScored(out, opts.Limit), nil
	}

	out := make([]Scored, 0)
	for _, r := range records {
		score := e.scorer.Relevance(query, r.Content)
		if opts.SearchTopics && query != "" && topicMatches(r, query) {
			score = 1
		}
		if score <= 0 || score < opts.SimilarityThreshold {
			continue
		}
		out = append(out, Scored{Record: r, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return newer(out[i].Record, out[j].Record)
	})
	return limitScored(out, opts.Limit), nil
}

// All returns every record for the owner, newest first.
func (e *Engine) All(ctx context.Context, ownerID string) ([]Record, error) {
	records, err := e.backend.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	sortByRecency(records)
	return records, nil
}

// Recent returns up to limit records ordered by LastUpdated, newest first.
func (e *Engine) Recent(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	records, err := e.All(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// IDs snapshots the owner's record ids.
func (e *Engine) IDs(ctx context.Context, ownerID string) ([]string, error) {
	records, err := e.backend.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (e *Engine) Get(ctx context.Context, ownerID, id string) (Record, error) {
	return e.backend.Get(ctx, ownerID, id)
}

// SetSyncState records the remote mirror status of a record.
func (e *Engine) SetSyncState(ctx context.Context, ownerID, id string, state SyncState) error {
	return e.backend.SetSyncState(ctx, ownerID, id, state)
}

// SetSyncStateIf sets state only while the record's LastUpdated still equals
// version, so a push of older content never marks newer content synced.
func (e *Engine) SetSyncStateIf(ctx context.Context, ownerID, id string, version time.Time, state SyncState) (bool, error) {
	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	current, err := e.backend.Get(ctx, ownerID, id)
	if err != nil {
		return false, err
	}
	if !current.LastUpdated.Equal(version) {
		return false, nil
	}
	if current.SyncState == state {
		return true, nil
	}
	if err := e.backend.SetSyncState(ctx, ownerID, id, state); err != nil {
		return false, err
	}
	return true, nil
}

// Owners lists every owner with at least one record.
func (e *Engine) Owners(ctx context.Context) ([]string, error) {
	return e.backend.Owners(ctx)
}

// findDuplicate checks content against existing records, skipping skipID.
// Exact matches win over semantic ones.
func (e *Engine) findDuplicate(content string, existing []Record, skipID string) (Rejection, bool) {
	for _, r := range existing {
		if r.ID == skipID {
			continue
		}
		if equalFold(r.Content, content) {
			return Rejection{Reason: ReasonExactDuplicate, MatchID: r.ID, Score: 1}, true
		}
	}

	threshold := e.dedup.threshold(e.shape(content))
	var (
		best   Rejection
		winner bool
	)
	for _, r := range existing {
		if r.ID == skipID {
			continue
		}
		score := e.scorer.Similarity(content, r.Content)
		if score >= threshold && score > best.Score {
			best = Rejection{
				Reason:  ReasonSemanticDuplicate,
				MatchID: r.ID,
				Score:   score,
				Detail:  fmt.Sprintf("similar to existing memory %q", r.Content),
			}
			winner = true
		}
	}
	return best, winner
}

// topicMatches reports whether a topic appears in the query as whole words,
// so "network" does not match the work topic.
func topicMatches(r Record, query string) bool {
	q := " " + normalizeText(query) + " "
	for _, t := range r.Topics {
		name := normalizeText(strings.ReplaceAll(t, "_", " "))
		if name != "" && strings.Contains(q, " "+name+" ") {
			return true
		}
	}
	return false
}

func sortByRecency(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return newer(records[i], records[j])
	})
}

func newer(a, b Record) bool {
	if !a.LastUpdated.Equal(b.LastUpdated) {
		return a.LastUpdated.After(b.LastUpdated)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func limitScored(in []Scored, limit int) []Scored {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
