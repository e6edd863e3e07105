package callback_test

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	. "github.com/liujh2010/callback"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRegistry() *Registry {
	return NewRegistry(WithLogger(quietLogger()))
}

type amounted interface {
	Amount() int
}

type deposit struct {
	amount int
}

func (d *deposit) Amount() int { return d.amount }

type withdraw struct {
	amount int
}

type ledger struct {
	name    string
	balance int
}

type unknownService struct{}

type store interface {
	Name() string
}

type sqlStore struct {
	name string
}

func (s *sqlStore) Name() string { return s.name }

type services struct{}

// bind fails t when a registration fails: bind(t)(r.RegisterHandles(...)).
func bind(t *testing.T) func(*Binding, error) *Binding {
	return func(b *Binding, err error) *Binding {
		t.Helper()
		require.NoError(t, err)
		return b
	}
}

// registerLedger binds the deposit member used by most traversal tests.
func registerLedger(t *testing.T, r *Registry) {
	bind(t)(r.RegisterHandles(func(l *ledger, d *deposit) int {
		l.balance += d.amount
		return l.balance
	}))
}

func registerStores(t *testing.T, r *Registry) {
	bind(t)(r.RegisterProvides(func(s *services) *sqlStore {
		return &sqlStore{name: "primary"}
	}, WithConstraints(Named("primary"))))
	bind(t)(r.RegisterProvides(func(s *services) (*sqlStore, error) {
		return &sqlStore{name: "replica"}, nil
	}, WithConstraints(Named("replica"))))
}
