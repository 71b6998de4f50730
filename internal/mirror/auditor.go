package mirror

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/mnemo/internal/graph"
	"github.com/ent0n29/mnemo/internal/memory"
)

// Report describes drift between the local store and the graph mirror for
// one owner.
type Report struct {
	OwnerID       string    `json:"owner_id"`
	LocalCount    int       `json:"local_count"`
	RemoteCount   int       `json:"remote_count"`
	MissingRemote []string  `json:"missing_remote"`
	MissingLocal  []string  `json:"missing_local"`
	Failed        []string  `json:"failed"`
	CheckedAt     time.Time `json:"checked_at"`
}

// InSync reports whether both sides agree and nothing is marked failed.
func (r Report) InSync() bool {
	return len(r.MissingRemote) == 0 && len(r.MissingLocal) == 0 && len(r.Failed) == 0
}

// RepairResult is a Report plus the ids re-queued for upsert and the
// remote-only ids re-queued for delete.
type RepairResult struct {
	Report    Report   `json:"report"`
	Requeued  []string `json:"requeued"`
	Redeleted []string `json:"redeleted"`
}

// Auditor diffs local and remote ids. It reads a single snapshot of the
// local store and never holds an owner write lock.
type Auditor struct {
	engine *memory.Engine
	graph  graph.Factory
	coord  *Coordinator
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditor(coord *Coordinator, factory graph.Factory, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{
		engine: coord.Engine(),
		graph:  factory,
		coord:  coord,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *Auditor) Audit(ctx context.Context, ownerID string) (Report, error) {
	if a.graph == nil {
		return Report{}, graph.ErrDisabled
	}
	var (
		local  []memory.Record
		remote []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := a.engine.All(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("local snapshot: %w", err)
		}
		local = recs
		return nil
	})
	g.Go(func() error {
		return graph.With(gctx, a.graph, func(c graph.Client) error {
			ids, err := c.ListIDs(gctx, ownerID)
			if err != nil {
				return fmt.Errorf("remote ids: %w", err)
			}
			remote = ids
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	localIDs := lo.Map(local, func(r memory.Record, _ int) string { return r.ID })
	missingRemote, missingLocal := lo.Difference(localIDs, lo.Uniq(remote))
	failed := lo.FilterMap(local, func(r memory.Record, _ int) (string, bool) {
		return r.ID, r.SyncState == memory.SyncFailed
	})
	sort.Strings(missingRemote)
	sort.Strings(missingLocal)
	sort.Strings(failed)

	return Report{
		OwnerID:       ownerID,
		LocalCount:    len(localIDs),
		RemoteCount:   len(lo.Uniq(remote)),
		MissingRemote: missingRemote,
		MissingLocal:  missingLocal,
		Failed:        failed,
		CheckedAt:     a.now(),
	}, nil
}

// Repair audits the owner and re-queues upserts for records the remote lacks
// or that are marked failed. A remote-only document is deleted only when this
// process deleted it locally and its remote delete never went through; every
// other remote-only document is reported and left alone.
func (a *Auditor) Repair(ctx context.Context, ownerID string) (RepairResult, error) {
	report, err := a.Audit(ctx, ownerID)
	if err != nil {
		return RepairResult{}, err
	}
	candidates := lo.Uniq(append(append([]string(nil), report.MissingRemote...), report.Failed...))
	sort.Strings(candidates)
	requeued := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if a.coord.Repush(ownerID, id) {
			requeued = append(requeued, id)
		}
	}

	remoteOnly := lo.Keyify(report.MissingLocal)
	redeleted := make([]string, 0)
	for _, id := range a.coord.PendingDeletes(ownerID) {
		if _, ok := remoteOnly[id]; !ok {
			// Already gone remotely.
			a.coord.forgetDelete(ownerID, id)
			continue
		}
		if a.coord.Redelete(ownerID, id) {
			redeleted = append(redeleted, id)
		}
	}

	if len(candidates) > 0 || len(report.MissingLocal) > 0 {
		a.logger.Info("sync repair",
			zap.String("owner_id", ownerID),
			zap.Int("requeued", len(requeued)),
			zap.Int("redeleted", len(redeleted)),
			zap.Int("missing_remote", len(report.MissingRemote)),
			zap.Int("missing_local", len(report.MissingLocal)),
			zap.Int("failed", len(report.Failed)),
		)
	}
	return RepairResult{Report: report, Requeued: requeued, Redeleted: redeleted}, nil
}

// RunSchedule repairs every owner known to the engine each interval until ctx
// is done.
func (a *Auditor) RunSchedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 || a.graph == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.repairAll(ctx)
		}
	}
}

func (a *Auditor) repairAll(ctx context.Context) {
	owners, err := a.engine.Owners(ctx)
	if err != nil {
		a.logger.Warn("scheduled audit: list owners failed", zap.Error(err))
		return
	}
	for _, owner := range owners {
		if _, err := a.Repair(ctx, owner); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			a.logger.Warn("scheduled audit failed", zap.String("owner_id", owner), zap.Error(err))
		}
	}
}
