package promise_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/liujh2010/callback/promise"
)

func TestSettleOnce(t *testing.T) {
	t.Run("resolve then reject", func(t *testing.T) {
		p := Deferred()
		p.Resolve(1)
		p.Reject(errors.New("late"))
		p.Cancel()

		assert.Equal(t, StateFulfilled, p.State())
		v, err := p.Wait()
		assert.NoError(t, err)
		assert.Equal(t, 1, v)
	})

	t.Run("reject then resolve", func(t *testing.T) {
		boom := errors.New("boom")
		p := Deferred()
		p.Reject(boom)
		p.Resolve(2)

		assert.Equal(t, StateRejected, p.State())
		_, err := p.Wait()
		assert.Equal(t, boom, err)
	})

	t.Run("adopting blocks later settles", func(t *testing.T) {
		p, q := Deferred(), Deferred()
		p.Resolve(q)
		p.Resolve(5)
		p.Reject(errors.New("late"))
		assert.Equal(t, StatePending, p.State())

		q.Resolve(1)
		v, err := p.Wait()
		assert.NoError(t, err)
		assert.Equal(t, 1, v)
	})

	t.Run("cancel while adopting", func(t *testing.T) {
		p, q := Deferred(), Deferred()
		p.Resolve(q)
		p.Cancel()
		q.Resolve(1)

		assert.Equal(t, StateCancelled, p.State())
		assert.Equal(t, StateFulfilled, q.State())
	})

	t.Run("owner panic rejects", func(t *testing.T) {
		p := New(func(resolve func(any), reject func(error)) {
			panic("bad owner")
		})
		_, err := p.Wait()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad owner")
	})
}

func TestThenInline(t *testing.T) {
	var trace []string
	p := Resolved(2)
	derived := p.Then(func(v any) (any, error) {
		trace = append(trace, "continuation")
		return v.(int) * 10, nil
	})
	trace = append(trace, "returned")

	assert.Equal(t, []string{"continuation", "returned"}, trace)
	assert.Equal(t, StateFulfilled, derived.State())
	assert.True(t, p.Synchronous())
	assert.True(t, derived.Synchronous())
	v, err := derived.Wait()
	assert.NoError(t, err)
	assert.Equal(t, 20, v)
}

func TestThenPending(t *testing.T) {
	p := Deferred()
	var order []int
	p.Then(func(any) (any, error) { order = append(order, 1); return nil, nil })
	p.Then(func(any) (any, error) { order = append(order, 2); return nil, nil })
	assert.Empty(t, order)

	p.Resolve("x")
	assert.Equal(t, []int{1, 2}, order)
	assert.False(t, p.Synchronous())
}

func TestThenFlattens(t *testing.T) {
	inner := Deferred()
	outer := Resolved(1).Then(func(any) (any, error) { return inner, nil })
	assert.Equal(t, StatePending, outer.State())

	inner.Resolve("inner")
	v, err := outer.Wait()
	assert.NoError(t, err)
	assert.Equal(t, "inner", v)
}

func TestCatchRecovers(t *testing.T) {
	boom := errors.New("boom")
	p := Rejected(boom).
		Then(func(any) (any, error) { t.Fatal("fulfilled branch ran"); return nil, nil }).
		Catch(func(err error) (any, error) {
			assert.Equal(t, boom, err)
			return "recovered", nil
		})
	v, err := p.Wait()
	assert.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestContinuationPanicRejects(t *testing.T) {
	p := Resolved(1).Then(func(any) (any, error) { panic("kaboom") })
	assert.Equal(t, StateRejected, p.State())
	_, err := p.Wait()
	assert.Contains(t, err.Error(), "kaboom")
}

func TestCancellation(t *testing.T) {
	var hooked, cancelled bool
	p := NewCancellable(func(resolve func(any), reject func(error), onCancel func(func())) {
		onCancel(func() { hooked = true })
	})
	p.Cancelled(func(*CancelledError) { cancelled = true })

	rejectedCalled := false
	derived := p.Then(
		func(any) (any, error) { return nil, nil },
		func(error) (any, error) { rejectedCalled = true; return nil, nil },
	)

	p.Cancel()

	assert.True(t, hooked)
	assert.True(t, cancelled)
	assert.False(t, rejectedCalled)
	assert.Equal(t, StateCancelled, p.State())
	assert.Equal(t, StateCancelled, derived.State())

	_, err := derived.Wait()
	assert.True(t, IsCancelled(err))

	p.Resolve(1)
	assert.Equal(t, StateCancelled, p.State())
}

func TestAll(t *testing.T) {
	t.Run("ordered values", func(t *testing.T) {
		a, b, c := Deferred(), Deferred(), Deferred()
		all := All(a, b, c)
		c.Resolve(3)
		a.Resolve(1)
		assert.Equal(t, StatePending, all.State())
		b.Resolve(2)

		v, err := all.Wait()
		require.NoError(t, err)
		assert.Equal(t, []any{1, 2, 3}, v)
	})

	t.Run("first rejection", func(t *testing.T) {
		boom := errors.New("boom")
		a, b := Deferred(), Deferred()
		all := All(a, b, Resolved(3))
		b.Reject(boom)
		a.Reject(errors.New("second"))

		_, err := all.Wait()
		assert.Equal(t, boom, err)
	})

	t.Run("cancelled input", func(t *testing.T) {
		a := Deferred()
		all := All(a, Resolved(1))
		a.Cancel()
		assert.Equal(t, StateCancelled, all.State())
	})

	t.Run("empty", func(t *testing.T) {
		v, err := All().Wait()
		assert.NoError(t, err)
		assert.Equal(t, []any{}, v)
	})
}

func TestRace(t *testing.T) {
	a, b := Deferred(), Deferred()
	r := Race(a, b)
	b.Resolve("b")
	a.Resolve("a")
	v, err := r.Wait()
	assert.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestTimeout(t *testing.T) {
	_, err := Deferred().Timeout(10 * time.Millisecond).Wait()
	assert.True(t, errors.Is(err, ErrTimeout))

	v, err := Resolved("fast").Timeout(time.Second).Wait()
	assert.NoError(t, err)
	assert.Equal(t, "fast", v)
}

func TestDelayAndFinally(t *testing.T) {
	var finished bool
	p := Delay(5 * time.Millisecond).Finally(func() { finished = true })
	_, err := p.Wait()
	assert.NoError(t, err)
	assert.True(t, finished)
}

func TestAwaitContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Deferred().Await(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestGoOnPool(t *testing.T) {
	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	defer pool.Release()

	var wg sync.WaitGroup
	wg.Add(1)
	p := Go(pool, func() (any, error) {
		defer wg.Done()
		return "pooled", nil
	})
	wg.Wait()

	s, err := Get[string](context.Background(), p)
	assert.NoError(t, err)
	assert.Equal(t, "pooled", s)

	_, err = Get[int](context.Background(), p)
	assert.Error(t, err)
}

func TestTry(t *testing.T) {
	v, err := Try(func() (any, error) { return 5, nil }).Wait()
	assert.NoError(t, err)
	assert.Equal(t, 5, v)

	_, err = Try(func() (any, error) { panic(errors.New("inner")) }).Wait()
	assert.Contains(t, err.Error(), "inner")
}
