package session

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/marmos91/gorods/internal/logger"
	"github.com/marmos91/gorods/internal/telemetry"
	"github.com/marmos91/gorods/pkg/account"
	rodserrors "github.com/marmos91/gorods/pkg/errors"
	"github.com/marmos91/gorods/pkg/transport"
)

// Scope is a confinement unit for connections: it caches at most one Conn
// per account for the code that owns it.
//
// A Scope must not be used from more than one goroutine at a time and takes
// no lock. Every Conn it hands out belongs to it; the owner must call
// ReleaseAll (or Release for each account) before dropping the Scope or the
// connections leak. Concurrent work such as parallel transfer streams uses
// one Scope per goroutine.
type Scope struct {
	mgr   *Manager
	id    string
	conns map[account.Account]transport.Conn
}

// ID identifies the scope in logs.
func (s *Scope) ID() string {
	return s.id
}

func newScope(m *Manager) *Scope {
	return &Scope{mgr: m, id: uuid.NewString()}
}

// Acquire returns the scope's connection for acct, dialing one through the
// manager's supplier on a cache miss.
//
// Errors: Configuration when the manager has no supplier, InvalidArgument
// when acct is invalid, Connection when the supplier fails or returns no
// Conn. A failed dial leaves the cache unchanged.
func (s *Scope) Acquire(ctx context.Context, acct account.Account) (transport.Conn, error) {
	const op = "session.Acquire"

	supplier := s.mgr.Supplier()
	if supplier == nil {
		logger.ErrorCtx(ctx, "No connection supplier configured", logger.KeyScope, s.id)
		return nil, rodserrors.NewConfigurationError(op, "no connection supplier configured")
	}
	if err := acct.Validate(); err != nil {
		return nil, err
	}

	if conn, ok := s.conns[acct]; ok {
		if !conn.Closed() {
			s.mgr.sessionMetrics.RecordHit()
			logger.DebugCtx(ctx, "Reusing cached connection",
				logger.KeyScope, s.id,
				logger.KeyAccount, acct.String(),
				logger.KeyConnectionID, conn.ID())
			return conn, nil
		}
		// Closed behind the scope's back; drop it and dial again.
		logger.WarnCtx(ctx, "Cached connection was closed externally, redialing",
			logger.KeyScope, s.id,
			logger.KeyAccount, acct.String(),
			logger.KeyConnectionID, conn.ID())
		s.evict(acct)
		s.mgr.sessionMetrics.RecordRelease("stale", 1)
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSessionAcquire)
	defer span.End()
	span.SetAttributes(telemetry.Account(acct.String()), telemetry.Zone(acct.Zone), telemetry.Cached(false))

	conn, err := supplier.Connect(ctx, acct)
	if err != nil {
		s.mgr.sessionMetrics.RecordDial("error")
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Connection supplier failed",
			logger.KeyScope, s.id,
			logger.KeyAccount, acct.String(),
			logger.KeyError, err)
		return nil, rodserrors.NewConnectionError(op, err)
	}
	if conn == nil {
		s.mgr.sessionMetrics.RecordDial("nil")
		telemetry.RecordError(ctx, rodserrors.ErrNilConnection)
		logger.ErrorCtx(ctx, "Connection supplier returned no connection",
			logger.KeyScope, s.id,
			logger.KeyAccount, acct.String())
		return nil, rodserrors.NewConnectionError(op, rodserrors.ErrNilConnection)
	}

	s.mgr.sessionMetrics.RecordDial("success")
	span.SetAttributes(telemetry.ConnectionID(conn.ID()))

	if s.conns == nil {
		s.conns = make(map[account.Account]transport.Conn)
	}
	s.conns[acct] = conn

	logger.DebugCtx(ctx, "Opened connection",
		logger.KeyScope, s.id,
		logger.KeyAccount, acct.String(),
		logger.KeyConnectionID, conn.ID())
	return conn, nil
}

// Release closes and forgets the connection for acct. Releasing an account
// the scope does not hold is a logged no-op. The connection is evicted even
// when Close fails; the close error is returned.
func (s *Scope) Release(acct account.Account) error {
	conn, ok := s.conns[acct]
	if !ok {
		logger.Debug("Release of a connection not held, ignoring",
			logger.KeyScope, s.id,
			logger.KeyAccount, acct.String())
		return nil
	}

	err := conn.Close()
	s.evict(acct)
	s.mgr.sessionMetrics.RecordRelease("single", 1)

	if err != nil {
		logger.Warn("Error closing connection",
			logger.KeyScope, s.id,
			logger.KeyAccount, acct.String(),
			logger.KeyConnectionID, conn.ID(),
			logger.KeyError, err)
		return fmt.Errorf("close connection for %s: %w", acct, err)
	}

	logger.Debug("Released connection",
		logger.KeyScope, s.id,
		logger.KeyAccount, acct.String(),
		logger.KeyConnectionID, conn.ID())
	return nil
}

// ReleaseAll closes and forgets every connection of the scope. It is
// idempotent. Close errors are joined and returned after all connections
// have been evicted.
func (s *Scope) ReleaseAll() error {
	if s.conns == nil {
		logger.Debug("ReleaseAll on a scope without connections, ignoring", logger.KeyScope, s.id)
		return nil
	}

	var errs []error
	n := len(s.conns)
	for acct, conn := range s.conns {
		if err := conn.Close(); err != nil {
			logger.Warn("Error closing connection",
				logger.KeyScope, s.id,
				logger.KeyAccount, acct.String(),
				logger.KeyConnectionID, conn.ID(),
				logger.KeyError, err)
			errs = append(errs, fmt.Errorf("close connection for %s: %w", acct, err))
		}
	}
	s.conns = nil
	s.mgr.sessionMetrics.RecordRelease("all", n)

	logger.Debug("Released all connections", logger.KeyScope, s.id, "count", n)
	return errors.Join(errs...)
}

// Conns returns a copy of the scope's cache, or nil when the scope holds no
// connection.
func (s *Scope) Conns() map[account.Account]transport.Conn {
	if s.conns == nil {
		return nil
	}
	return maps.Clone(s.conns)
}

// Len returns the number of cached connections.
func (s *Scope) Len() int {
	return len(s.conns)
}

func (s *Scope) evict(acct account.Account) {
	delete(s.conns, acct)
	if len(s.conns) == 0 {
		s.conns = nil
	}
}
