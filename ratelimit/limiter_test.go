package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLimiter_NthAllowedNextDenied(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		lim := NewLimiter(NewMemoryWindow())
		ctx := context.Background()

		for i := 1; i <= n; i++ {
			out, err := lim.Check(ctx, "user-1", n, "1m")
			require.NoError(t, err)
			assert.True(t, out.Allowed, "call %d of %d should be allowed", i, n)
			assert.Equal(t, n-i, out.Remaining)
		}

		out, err := lim.Check(ctx, "user-1", n, "1m")
		require.NoError(t, err)
		assert.False(t, out.Allowed, "call %d should be denied", n+1)
		assert.Equal(t, 0, out.Remaining)
	}
}

func TestLimiter_IdentifiersIndependent(t *testing.T) {
	lim := NewLimiter(NewMemoryWindow())
	ctx := context.Background()

	out, err := lim.Check(ctx, "user-1", 1, "1m")
	require.NoError(t, err)
	require.True(t, out.Allowed)

	out, err = lim.Check(ctx, "user-2", 1, "1m")
	require.NoError(t, err)
	assert.True(t, out.Allowed)
}

func TestLimiter_Prefix(t *testing.T) {
	svc := NewMemoryWindow()
	a := NewLimiter(svc, WithPrefix("search:"))
	b := NewLimiter(svc, WithPrefix("book:"))
	ctx := context.Background()

	out, _ := a.Check(ctx, "u", 1, "1m")
	require.True(t, out.Allowed)
	out, _ = b.Check(ctx, "u", 1, "1m")
	assert.True(t, out.Allowed, "prefixes should isolate counters")
}

func TestLimiter_WindowSlides(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	lim := NewLimiter(NewMemoryWindow(WithClock(clock.Now)))
	ctx := context.Background()

	out, _ := lim.Check(ctx, "u", 2, "1m")
	require.True(t, out.Allowed)
	assert.Equal(t, clock.t.Add(time.Minute), out.ResetAt)

	clock.Advance(30 * time.Second)
	out, _ = lim.Check(ctx, "u", 2, "1m")
	require.True(t, out.Allowed)

	clock.Advance(10 * time.Second)
	out, _ = lim.Check(ctx, "u", 2, "1m")
	require.False(t, out.Allowed)

	// The first request leaves the window 60s after it was made.
	clock.Advance(21 * time.Second)
	out, _ = lim.Check(ctx, "u", 2, "1m")
	assert.True(t, out.Allowed)
}

func TestLimiter_Validation(t *testing.T) {
	lim := NewLimiter(NewMemoryWindow())
	ctx := context.Background()

	tests := []struct {
		name    string
		id      string
		limit   int
		window  string
		wantErr error
	}{
		{"empty identifier", " ", 1, "1m", ErrEmptyIdentifier},
		{"zero limit", "u", 0, "1m", ErrInvalidLimit},
		{"bad window", "u", 1, "soon", ErrInvalidWindow},
		{"empty window", "u", 1, "", ErrInvalidWindow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := lim.Check(ctx, tc.id, tc.limit, tc.window)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	var nilLim *Limiter
	_, err := nilLim.Check(ctx, "u", 1, "1m")
	assert.ErrorIs(t, err, ErrNilService)
}

type errService struct{ err error }

func (e errService) Limit(context.Context, string, int, time.Duration) (Response, error) {
	return Response{}, e.err
}

func TestLimiter_ServiceErrorWrapped(t *testing.T) {
	down := errors.New("connection refused")
	lim := NewLimiter(errService{err: down})

	_, err := lim.Check(context.Background(), "u", 1, "1m")
	assert.ErrorIs(t, err, down)
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1m", time.Minute},
		{"10 s", 10 * time.Second},
		{" 1h30m ", 90 * time.Minute},
		{"1d", 24 * time.Hour},
		{"2 d", 48 * time.Hour},
		{"500ms", 500 * time.Millisecond},
	}
	for _, tc := range tests {
		got, err := ParseWindow(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "-1m", "0s", "xd", "1w"} {
		_, err := ParseWindow(bad)
		assert.ErrorIs(t, err, ErrInvalidWindow, bad)
	}
}
