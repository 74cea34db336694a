// Package storemgr owns the process's single connection to the document
// store. A Manager establishes the connection lazily on first demand,
// memoizes it, and collapses concurrent first-time callers onto one dial so
// at most one connection exists per Manager. It also defines the Store
// capability interface the rest of the server programs against, which keeps
// the MongoDB driver behind pkg/mongostore and lets tests inject fakes.
package storemgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vikashloomba/mongo-mcp-go/pkg/mongoerr"
)

// Status represents the lifecycle of the managed connection.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusConnecting    Status = "connecting"
	StatusConnected     Status = "connected"
	StatusClosed        Status = "closed"
)

// ErrClosed is returned by EnsureConnected after Close.
var ErrClosed = errors.New("storemgr: manager closed")

// Manager memoizes one Store connection.
type Manager struct {
	mu sync.Mutex

	uri     string
	dial    Dialer
	options ManagerOptions

	status    Status
	store     Store
	connectCh chan struct{}
	dials     int
}

// NewManager constructs a Manager for uri. No connection is attempted until
// EnsureConnected is called. Callers can provide nil options to fall back to
// sensible defaults.
func NewManager(uri string, dial Dialer, opts *ManagerOptions) *Manager {
	return &Manager{
		uri:     uri,
		dial:    dial,
		options: opts.normalized(),
		status:  StatusUninitialized,
	}
}

// Status reports the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Dials reports how many connection attempts have been started.
func (m *Manager) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// EnsureConnected returns the memoized Store, dialing it first when no live
// connection exists. Concurrent callers wait for the in-flight attempt rather
// than starting their own. A failed attempt leaves the manager uninitialized
// so a later call may retry.
func (m *Manager) EnsureConnected(ctx context.Context) (Store, error) {
	for {
		m.mu.Lock()
		switch m.status {
		case StatusConnected:
			store := m.store
			m.mu.Unlock()
			return store, nil
		case StatusClosed:
			m.mu.Unlock()
			return nil, mongoerr.Connection("connect", ErrClosed)
		case StatusConnecting:
			ch := m.connectCh
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return nil, mongoerr.Connection("connect", ctx.Err())
			case <-ch:
				continue
			}
		}
		m.status = StatusConnecting
		m.connectCh = make(chan struct{})
		m.dials++
		m.mu.Unlock()

		store, err := m.establish(ctx)

		m.mu.Lock()
		close(m.connectCh)
		m.connectCh = nil
		if m.status == StatusClosed {
			// Close ran while the dial was in flight; the handle is orphaned.
			m.mu.Unlock()
			if store != nil {
				closeQuietly(context.WithoutCancel(ctx), store)
			}
			return nil, mongoerr.Connection("connect", ErrClosed)
		}
		if err != nil {
			m.status = StatusUninitialized
			m.mu.Unlock()
			m.options.Logger.Error("store connection failed", slog.String("error", err.Error()))
			return nil, mongoerr.Connection("connect", err)
		}
		m.store = store
		m.status = StatusConnected
		m.mu.Unlock()
		m.options.Logger.Info("store connected")
		return store, nil
	}
}

// establish creates the handle inside a suppression window, then verifies it
// outside the window: the handshake can block for the whole server-selection
// timeout and must not hold stray-output suppression for that long. Panics
// from the dialer or the store become errors so the single-flight channel is
// always released.
func (m *Manager) establish(ctx context.Context) (Store, error) {
	if m.uri == "" {
		return nil, errors.New("storemgr: connection string is empty")
	}
	if m.dial == nil {
		return nil, errors.New("storemgr: no dialer configured")
	}
	var store Store
	err := m.options.Gate.WithSuppressed(func() (err error) {
		defer recoverPanic("dial", &err)
		store, err = m.dial(ctx, m.uri, m.options.Client)
		return err
	})
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("storemgr: dialer returned no store")
	}
	if err := verify(ctx, store); err != nil {
		closeQuietly(context.WithoutCancel(ctx), store)
		return nil, err
	}
	return store, nil
}

func verify(ctx context.Context, store Store) (err error) {
	defer recoverPanic("ping", &err)
	return store.Ping(ctx)
}

func closeQuietly(ctx context.Context, store Store) {
	defer func() { _ = recover() }()
	_ = store.Close(ctx)
}

func recoverPanic(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("storemgr: %s panicked: %v", op, r)
	}
}

// Close tears down the connection if one is open and makes the manager
// terminal. Closing an uninitialized or already closed manager is a no-op. A
// dial still in flight is abandoned: its handle is closed as soon as it
// arrives.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusUninitialized || m.status == StatusClosed {
		m.mu.Unlock()
		return nil
	}
	store := m.store
	m.store = nil
	m.status = StatusClosed
	m.mu.Unlock()
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := store.Close(ctx); err != nil {
		m.options.Logger.Warn("store close failed", slog.String("error", err.Error()))
		return mongoerr.Connection("close", err)
	}
	m.options.Logger.Info("store closed")
	return nil
}
