// Package unitofwork scopes one matching attempt's access to the durable
// store behind a single SQL transaction, alongside the shared queue
// store and the per-process state store it coordinates with.
package unitofwork

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aungmyo/matchworker/internal/matchstore"
	"github.com/aungmyo/matchworker/internal/queuestore"
	"github.com/aungmyo/matchworker/internal/statestore"
)

// UnitOfWork scopes one attempt: a single durable-store transaction
// (REPEATABLE READ), shared across the Matches and Messages
// repositories it constructs, plus the queue and state stores an
// attempt also touches. It is not safe for concurrent use, and must
// never be shared between concurrent attempts.
type UnitOfWork struct {
	Queue    *queuestore.Store
	States   *statestore.Store
	Matches  *matchstore.MatchRepository
	Messages *matchstore.MessageRepository

	tx        *sql.Tx
	committed bool
}

// Begin opens a durable-store transaction and constructs the match and
// message repositories on top of it. Callers must defer Close
// immediately: Close rolls back unless Commit was already called.
func Begin(ctx context.Context, db *sql.DB, queue *queuestore.Store, states *statestore.Store) (*UnitOfWork, error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("unitofwork: begin transaction: %w", err)
	}

	return &UnitOfWork{
		Queue:    queue,
		States:   states,
		Matches:  matchstore.NewMatchRepository(tx),
		Messages: matchstore.NewMessageRepository(tx),
		tx:       tx,
	}, nil
}

// Commit flushes the durable-store transaction and marks it committed,
// so a subsequent Close is a no-op rather than a rollback.
func (u *UnitOfWork) Commit() error {
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("unitofwork: commit: %w", err)
	}
	u.committed = true
	return nil
}

// Close rolls back the transaction unless Commit already ran. Safe to
// call unconditionally via defer; rolling back a committed transaction
// is a no-op in database/sql (sql.ErrTxDone), which Close swallows.
func (u *UnitOfWork) Close() error {
	if u.committed {
		return nil
	}
	if err := u.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("unitofwork: rollback: %w", err)
	}
	return nil
}
