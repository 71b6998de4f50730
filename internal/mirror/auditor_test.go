package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/graph"
	"github.com/ent0n29/mnemo/internal/memory"
)

func TestAuditRepairsFailedUpsert(t *testing.T) {
	fake := graph.NewFake()
	fake.FailNext("upsert", 1)
	c := newTestCoordinator(t, fake, Options{MaxAttempts: 1})
	auditor := NewAuditor(c, fake, zap.NewNop())
	ctx := context.Background()

	rec := add(t, c, "u1", "Allergic to shellfish")
	require.Eventually(t, func() bool {
		return syncState(t, c, "u1", rec.ID) == memory.SyncFailed
	}, waitFor, tick)

	report, err := auditor.Audit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, report.MissingRemote)
	assert.Equal(t, []string{rec.ID}, report.Failed)
	assert.Empty(t, report.MissingLocal)
	assert.Equal(t, 1, report.LocalCount)
	assert.Equal(t, 0, report.RemoteCount)
	assert.False(t, report.InSync())

	result, err := auditor.Repair(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, result.Requeued)

	require.Eventually(t, func() bool {
		return syncState(t, c, "u1", rec.ID) == memory.SyncSynced
	}, waitFor, tick)

	report, err = auditor.Audit(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, report.InSync())
	assert.Equal(t, 1, report.RemoteCount)
}

func TestAuditReportsRemoteOnlyDocuments(t *testing.T) {
	fake := graph.NewFake()
	c := newTestCoordinator(t, fake, Options{})
	auditor := NewAuditor(c, fake, nil)
	ctx := context.Background()

	rec := add(t, c, "u1", "Volunteers at the shelter")
	require.Eventually(t, func() bool {
		return syncState(t, c, "u1", rec.ID) == memory.SyncSynced
	}, waitFor, tick)
	fake.Put(graph.Document{ID: "orphan", OwnerID: "u1", Content: "stale"})

	result, err := auditor.Repair(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, result.Report.MissingLocal)
	assert.Empty(t, result.Requeued)

	_, stillThere := fake.Document("u1", "orphan")
	assert.True(t, stillThere, "repair must not delete remote-only documents")
}

func TestAuditFailsWhenRemoteUnavailable(t *testing.T) {
	fake := graph.NewFake()
	c := newTestCoordinator(t, fake, Options{})
	auditor := NewAuditor(c, fake, nil)

	fake.FailNext("list", 1)
	_, err := auditor.Audit(context.Background(), "u1")
	require.Error(t, err)

	disabled := NewAuditor(c, nil, nil)
	_, err = disabled.Audit(context.Background(), "u1")
	assert.ErrorIs(t, err, graph.ErrDisabled)
}

func TestRunScheduleRepairsEveryOwner(t *testing.T) {
	fake := graph.NewFake()
	fake.FailNext("upsert", 2)
	c := newTestCoordinator(t, fake, Options{MaxAttempts: 1})
	auditor := NewAuditor(c, fake, zap.NewNop())

	r1 := add(t, c, "u1", "Collects stamps")
	r2 := add(t, c, "u2", "Collects coins")
	require.Eventually(t, func() bool {
		return syncState(t, c, "u1", r1.ID) == memory.SyncFailed && syncState(t, c, "u2", r2.ID) == memory.SyncFailed
	}, waitFor, tick)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go auditor.RunSchedule(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return syncState(t, c, "u1", r1.ID) == memory.SyncSynced && syncState(t, c, "u2", r2.ID) == memory.SyncSynced
	}, waitFor, tick)
}
