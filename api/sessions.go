/*
sessions.go - One ledger engine per owner

PURPOSE:
  The ledger engine expects one logical caller per owner: account and
  budget writes are read-modify-write cycles that lose updates when two
  callers interleave. Sessions gives every owner a single engine behind a
  mutex, so HTTP requests and the scheduler for the same owner run one at
  a time while different owners proceed in parallel.

LIFECYCLE:
  A session is created on first use and loads the owner's projection from
  the store. Drop and Reset retire it while holding its lock, so work
  already running on the old engine finishes first and callers that were
  waiting for it move on to a fresh session.
*/
package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/finance-ledger/ledger"
)

// Backend is the storage the API needs: the row store plus run history,
// owner listing and per-owner reset.
type Backend interface {
	ledger.RowStore
	ledger.RunLog
	ResetOwner(ctx context.Context, owner ledger.OwnerID) error
	Owners(ctx context.Context) ([]ledger.OwnerID, error)
}

type session struct {
	mu      sync.Mutex
	engine  *ledger.Engine
	loaded  bool
	retired bool
}

type Sessions struct {
	store ledger.RowStore
	opts  ledger.Options

	mu       sync.Mutex
	sessions map[ledger.OwnerID]*session
}

func NewSessions(store ledger.RowStore, opts ledger.Options) *Sessions {
	return &Sessions{
		store:    store,
		opts:     opts,
		sessions: make(map[ledger.OwnerID]*session),
	}
}

// Do runs fn with the owner's engine while holding the owner's lock. ctx
// must carry the owner (ledger.WithOwner).
func (s *Sessions) Do(ctx context.Context, fn func(e *ledger.Engine) error) error {
	owner, ok := ledger.OwnerFrom(ctx)
	if !ok {
		return &ledger.ValidationError{Field: "owner", Reason: "is required"}
	}

	sess := s.acquire(owner)
	defer sess.mu.Unlock()

	if !sess.loaded {
		if err := sess.engine.Load(ctx); err != nil {
			return fmt.Errorf("load ledger for %s: %w", owner, err)
		}
		sess.loaded = true
	}
	return fn(sess.engine)
}

// Drop forgets the owner's engine and projection once the call running on
// it, if any, has returned.
func (s *Sessions) Drop(owner ledger.OwnerID) {
	_ = s.Reset(context.Background(), owner, nil)
}

// Reset runs reset (for example a store wipe) while holding the owner's
// lock and then retires the session. The session is retired even when
// reset fails, since the store may be partially wiped.
func (s *Sessions) Reset(ctx context.Context, owner ledger.OwnerID, reset func(ctx context.Context) error) error {
	sess := s.acquire(owner)
	defer sess.mu.Unlock()

	var err error
	if reset != nil {
		err = reset(ctx)
	}
	sess.retired = true
	s.mu.Lock()
	if s.sessions[owner] == sess {
		delete(s.sessions, owner)
	}
	s.mu.Unlock()
	return err
}

// acquire returns the owner's live session with its lock held.
func (s *Sessions) acquire(owner ledger.OwnerID) *session {
	for {
		sess := s.get(owner)
		sess.mu.Lock()
		if !sess.retired {
			return sess
		}
		sess.mu.Unlock()
	}
}

func (s *Sessions) get(owner ledger.OwnerID) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[owner]
	if !ok {
		sess = &session{engine: ledger.NewEngine(s.store, s.opts)}
		s.sessions[owner] = sess
	}
	return sess
}
