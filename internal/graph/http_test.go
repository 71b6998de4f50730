package graph

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFactory(t *testing.T, handler http.Handler, bc BreakerConfig) *HTTPFactory {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	f, err := NewHTTPFactory(srv.URL+"/", 2*time.Second, bc, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestHTTPClientRoundTrip(t *testing.T) {
	fake := NewFake()
	f := newTestFactory(t, fake.Handler(), DefaultBreakerConfig())
	ctx := context.Background()

	err := With(ctx, f, func(c Client) error {
		require.NoError(t, c.Upsert(ctx, Document{ID: "m1", OwnerID: "u1", Content: "Plays the cello", Topics: []string{"hobbies"}}))
		require.NoError(t, c.Upsert(ctx, Document{ID: "m2", OwnerID: "u1", Content: "Lives near the river"}))
		// Upserting the same id again replaces, never duplicates.
		require.NoError(t, c.Upsert(ctx, Document{ID: "m1", OwnerID: "u1", Content: "Plays the cello badly"}))

		ids, err := c.ListIDs(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2"}, ids)

		hits, err := c.Query(ctx, QueryRequest{OwnerID: "u1", Text: "cello", TopK: 5})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "m1", hits[0].ID)
		assert.Equal(t, "Plays the cello badly", hits[0].Content)

		require.NoError(t, c.Delete(ctx, "u1", "m2"))
		// Deleting a missing document is not an error.
		require.NoError(t, c.Delete(ctx, "u1", "m2"))

		ids, err = c.ListIDs(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"m1"}, ids)
		return nil
	})
	require.NoError(t, err)
}

func TestHTTPClientStatusErrors(t *testing.T) {
	fake := NewFake()
	f := newTestFactory(t, fake.Handler(), DefaultBreakerConfig())
	ctx := context.Background()

	c, err := f.Open(ctx)
	require.NoError(t, err)
	defer c.Close()

	err = c.Upsert(ctx, Document{OwnerID: "u1", Content: "no id"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.False(t, IsRetryable(err))

	fake.FailNext("upsert", 1)
	err = c.Upsert(ctx, Document{ID: "m1", OwnerID: "u1", Content: "x"})
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.True(t, IsRetryable(err))
}

func TestHTTPFactoryBreakerOpensOnRepeatedFailures(t *testing.T) {
	fake := NewFake()
	fake.SetDown(errors.New("maintenance"))
	f := newTestFactory(t, fake.Handler(), BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      2,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := With(ctx, f, func(c Client) error {
			return c.Upsert(ctx, Document{ID: "m1", OwnerID: "u1", Content: "x"})
		})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, f.BreakerState())

	calls := fake.Calls("upsert")
	err := With(ctx, f, func(c Client) error {
		return c.Upsert(ctx, Document{ID: "m1", OwnerID: "u1", Content: "x"})
	})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, calls, fake.Calls("upsert"), "open breaker must not reach the service")
}

func TestWithClosesClient(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()

	err := With(ctx, fake, func(c Client) error {
		assert.Equal(t, 1, fake.OpenClients())
		return c.Upsert(ctx, Document{ID: "m1", OwnerID: "u1", Content: "x"})
	})
	require.NoError(t, err)
	assert.Equal(t, 0, fake.OpenClients())
	assert.Equal(t, 1, fake.Opened())

	assert.ErrorIs(t, With(ctx, nil, func(Client) error { return nil }), ErrDisabled)
}

func TestParseQueryMode(t *testing.T) {
	m, err := ParseQueryMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)

	m, err = ParseQueryMode(" Local ")
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, m)

	_, err = ParseQueryMode("vector")
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(&StatusError{Op: "upsert", Code: http.StatusUnprocessableEntity}))
	assert.True(t, IsRetryable(&StatusError{Op: "upsert", Code: http.StatusTooManyRequests}))
	assert.True(t, IsRetryable(ErrInjected))
}
