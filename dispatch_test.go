package callback_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/liujh2010/callback"
	"github.com/liujh2010/callback/promise"
)

type quote struct {
	symbol string
}

type feed struct {
	price int
	delay time.Duration
}

func registerFeed(t *testing.T, r *Registry) {
	bind(t)(r.RegisterHandles(func(f *feed, q *quote) *promise.Promise {
		return promise.Delay(f.delay).Then(func(any) (any, error) {
			return f.price, nil
		})
	}))
}

func TestSubmit(t *testing.T) {
	t.Run("async member", func(t *testing.T) {
		r := newTestRegistry()
		registerFeed(t, r)
		h := r.NewHandler(&feed{price: 42, delay: time.Millisecond})

		p := Submit(h, &quote{symbol: "ACME"})
		v, err := promise.Get[int](context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("async member awaited by Execute", func(t *testing.T) {
		r := newTestRegistry()
		registerFeed(t, r)
		h := r.NewHandler(&feed{price: 7, delay: time.Millisecond})

		v, err := Execute(h, &quote{})
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("sync member wrapped", func(t *testing.T) {
		r := newTestRegistry()
		registerLedger(t, r)

		p := Submit(r.NewHandler(&ledger{balance: 1}), &deposit{amount: 2})
		assert.Equal(t, promise.StateFulfilled, p.State())
		v, err := p.Wait()
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	})

	t.Run("not handled rejects", func(t *testing.T) {
		p := Submit(NewChain(), &quote{})
		assert.Equal(t, promise.StateRejected, p.State())
		_, err := p.Wait()
		assert.ErrorIs(t, err, ErrNotHandled)

		p = Submit(WithBestEffort(NewChain()), &quote{})
		v, err := p.Wait()
		assert.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("await honours context", func(t *testing.T) {
		r := newTestRegistry()
		registerFeed(t, r)
		h := r.NewHandler(&feed{price: 1, delay: time.Hour})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := Execute(h, &quote{}, WithContext(ctx))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSubmitAll(t *testing.T) {
	r := newTestRegistry()
	registerFeed(t, r)
	chain := NewChain(
		r.NewHandler(&feed{price: 1, delay: 5 * time.Millisecond}),
		r.NewHandler(&feed{price: 2, delay: time.Millisecond}),
	)

	v, err := SubmitAll(chain, &quote{}).Wait()
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, v)

	t.Run("mixed sync and async", func(t *testing.T) {
		bind(t)(r.RegisterHandles(func(l *ledger, q *quote) int { return 3 }))
		chain.AddHandlers(r.NewHandler(&ledger{}))

		results, err := ExecuteAll(chain, &quote{})
		require.NoError(t, err)
		assert.Equal(t, []any{1, 2, 3}, results)
	})

	t.Run("first rejection wins", func(t *testing.T) {
		boom := errors.New("boom")
		r := newTestRegistry()
		bind(t)(r.RegisterHandles(func(l *ledger, q *quote) *promise.Promise {
			if l.name == "bad" {
				return promise.Rejected(boom)
			}
			return promise.Resolved(l.name)
		}))
		chain := NewChain(r.NewHandler(&ledger{name: "good"}), r.NewHandler(&ledger{name: "bad"}))

		_, err := SubmitAll(chain, &quote{}).Wait()
		assert.ErrorIs(t, err, boom)
	})
}

func TestCommand(t *testing.T) {
	cmd := NewCommand(&deposit{}, Many(), WantsAsync(), WithPolicy("custom"))
	assert.True(t, cmd.IsMany())
	assert.True(t, cmd.WantsAsync())
	assert.False(t, cmd.IsAsync())
	assert.Equal(t, "custom", cmd.Policy())
	assert.NotEqual(t, NewCommand(&deposit{}).ID(), cmd.ID())

	assert.True(t, cmd.Respond(1))
	assert.True(t, cmd.Respond(promise.Resolved(2)))
	assert.False(t, cmd.Respond(nil))
	assert.True(t, cmd.IsAsync())

	v, err := cmd.Result()
	require.NoError(t, err)
	values, err := v.(*promise.Promise).Wait()
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, values)

	single := NewCommand(&deposit{})
	assert.True(t, single.Respond(1))
	assert.False(t, single.Respond(2))

	_, err = Execute(NewChain(), &deposit{}, WithPolicy("custom"))
	assert.ErrorIs(t, err, ErrNotHandled)
}

func TestUnknownPolicy(t *testing.T) {
	r := newTestRegistry()
	_, err := Execute(r.NewHandler(&ledger{}), &deposit{}, WithPolicy("custom"))
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}

func TestResolveAsync(t *testing.T) {
	r := newTestRegistry()
	registerStores(t, r)
	h := r.NewHandler(&services{})

	v, err := promise.Get[store](context.Background(), ResolveAsync(h, TypeKey[store]()))
	require.NoError(t, err)
	assert.Equal(t, "primary", v.Name())

	_, err = ResolveAsync(h, TypeKey[amounted]()).Wait()
	assert.ErrorIs(t, err, ErrNotHandled)
}

type greeter interface {
	Greet(name string) string
	Farewell() string
}

type english struct{}

func (english) Greet(name string) string { return "hello " + name }
func (english) Farewell() string         { return "bye" }

type duckGreeter struct{}

func (duckGreeter) Greet(name string) string { return "quack " + name }

type failingGreeter struct{}

func (failingGreeter) Greet(name string) (string, error) { return "", errors.New("mute") }

func TestCapability(t *testing.T) {
	r := newTestRegistry()

	t.Run("implemented", func(t *testing.T) {
		c, ok := AsCapability[greeter](NewChain(r.NewHandler(&ledger{}), r.NewHandler(english{})))
		require.True(t, ok)

		results, err := c.Call("Greet", "bob")
		require.NoError(t, err)
		assert.Equal(t, []any{"hello bob"}, results)

		s, err := CallAs[string](c, "Farewell")
		require.NoError(t, err)
		assert.Equal(t, "bye", s)
	})

	t.Run("duck", func(t *testing.T) {
		h := r.NewHandler(duckGreeter{})
		c, _ := AsCapability[greeter](h)
		_, err := c.Call("Greet", "bob")
		assert.ErrorIs(t, err, ErrNotHandled)

		c, _ = AsCapability[greeter](WithDuck(h))
		s, err := CallAs[string](c, "Greet", "bob")
		require.NoError(t, err)
		assert.Equal(t, "quack bob", s)
	})

	t.Run("best effort", func(t *testing.T) {
		c, _ := AsCapability[greeter](WithBestEffort(NewChain()))
		results, err := c.Call("Greet", "bob")
		assert.NoError(t, err)
		assert.Nil(t, results)
	})

	t.Run("method error", func(t *testing.T) {
		c, _ := AsCapability[greeter](WithDuck(r.NewHandler(failingGreeter{})))
		_, err := c.Call("Greet", "bob")
		assert.EqualError(t, err, "mute")
	})

	t.Run("invalid", func(t *testing.T) {
		_, ok := AsCapability[english](NewChain())
		assert.False(t, ok)

		c, _ := AsCapability[greeter](NewChain())
		_, err := c.Call("Shout")
		assert.ErrorIs(t, err, ErrInvalidArgument)

		_, err = c.Call("Greet", 42)
		assert.ErrorIs(t, err, ErrNotHandled)
	})
}

type router struct{}

func TestJSONKey(t *testing.T) {
	r := newTestRegistry()
	_, err := r.RegisterPolicy("json", JSONKey("type"), []MatchStrategy{InvariantMatch}, nil)
	require.NoError(t, err)
	bind(t)(r.RegisterBinding(nil, "json", func(rt *router, msg json.RawMessage) string {
		return "created " + string(msg)
	}, WithKey("order.created")))
	bind(t)(r.RegisterBinding(nil, "json", func(rt *router, msg json.RawMessage) string {
		return "shipped"
	}, WithKey("order.shipped")))
	h := r.NewHandler(&router{})

	result, err := Execute(h, []byte(`{"type":"order.created","id":1}`), WithPolicy("json"))
	require.NoError(t, err)
	assert.Equal(t, `created {"type":"order.created","id":1}`, result)

	result, err = Execute(h, `{"type":"ORDER.SHIPPED"}`, WithPolicy("json"))
	require.NoError(t, err)
	assert.Equal(t, "shipped", result)

	for _, doc := range []any{`{"type":"order.cancelled"}`, `{"id":1}`, `not json`, 42} {
		_, err = Execute(h, doc, WithPolicy("json"))
		assert.ErrorIs(t, err, ErrNotHandled, "%v", doc)
	}
}
