package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is an alternative session backend for deployments that
// already run Postgres and don't want a second datastore. Atomicity of the
// stamp CAS and the privileged cap comes from a per-user advisory lock held
// for the duration of each write transaction.
//
// Expected schema:
//
//	CREATE TABLE user_sessions (
//	    id          TEXT PRIMARY KEY,
//	    user_id     TEXT NOT NULL,
//	    device_info TEXT NOT NULL DEFAULT '',
//	    ip          TEXT NOT NULL DEFAULT '',
//	    address     TEXT NOT NULL DEFAULT '',
//	    started_on  BIGINT NOT NULL,
//	    renewed_on  BIGINT NOT NULL DEFAULT 0,
//	    privileged  BOOLEAN NOT NULL DEFAULT FALSE,
//	    expires_at  BIGINT NOT NULL
//	);
//	CREATE INDEX user_sessions_user_idx ON user_sessions (user_id);
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewPostgresStore(pool *pgxpool.Pool, ttl time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, ttl: ttl}
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session, privilegedCap int) (*Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, sess.UserID); err != nil {
		return nil, err
	}

	privileged, err := underCap(ctx, tx, sess.UserID, privilegedCap)
	if err != nil {
		return nil, err
	}

	stored := *sess
	stored.Privileged = privileged
	_, err = tx.Exec(ctx, `
		INSERT INTO user_sessions (id, user_id, device_info, ip, address, started_on, renewed_on, privileged, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, stored.ID, stored.UserID, stored.DeviceInfo, stored.IP, stored.Address,
		stored.StartedOn, stored.RenewedOn, stored.Privileged,
		stored.StartedOn+int64(s.ttl.Seconds()))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &stored, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT id, user_id, device_info, ip, address, started_on, renewed_on, privileged
		FROM user_sessions
		WHERE id = $1 AND expires_at > $2
	`, id, time.Now().Unix()))
}

func (s *PostgresStore) Renew(ctx context.Context, in RenewInput, privilegedCap int) (*Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := lockUser(ctx, tx, in.UserID); err != nil {
		return nil, err
	}

	cur, err := scanSession(tx.QueryRow(ctx, `
		SELECT id, user_id, device_info, ip, address, started_on, renewed_on, privileged
		FROM user_sessions
		WHERE id = $1 AND expires_at > $2
	`, in.SessionID, in.Now.Unix()))
	if err != nil {
		return nil, err
	}

	now := in.Now.Unix()
	if cur.Stamp() != in.ExpectedStamp {
		if cur.Stamp() == now {
			return nil, ErrConcurrentUpdate
		}
		return nil, ErrStampMismatch
	}

	// Privilege is re-evaluated on every renewal; the flag never reverts.
	privileged := cur.Privileged
	if !privileged {
		privileged, err = underCap(ctx, tx, in.UserID, privilegedCap)
		if err != nil {
			return nil, err
		}
	}

	next := &Session{
		ID:         in.SessionID,
		UserID:     in.UserID,
		DeviceInfo: in.DeviceInfo,
		IP:         in.IP,
		Address:    in.Address,
		StartedOn:  cur.StartedOn,
		RenewedOn:  now,
		Privileged: privileged,
	}
	_, err = tx.Exec(ctx, `
		UPDATE user_sessions
		SET device_info = $2, ip = $3, address = $4, renewed_on = $5, privileged = $6, expires_at = $7
		WHERE id = $1
	`, next.ID, next.DeviceInfo, next.IP, next.Address, next.RenewedOn, next.Privileged,
		now+int64(s.ttl.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return next, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PrivilegedCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_sessions
		WHERE user_id = $1 AND privileged AND expires_at > $2
	`, userID, time.Now().Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.DeviceInfo, &sess.IP, &sess.Address,
		&sess.StartedOn, &sess.RenewedOn, &sess.Privileged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &sess, nil
}

// lockUser serializes every session write for one user, which is what makes
// the cap check race-free across connections.
func lockUser(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func underCap(ctx context.Context, tx pgx.Tx, userID string, cap int) (bool, error) {
	if cap < 0 {
		return true, nil
	}
	var n int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_sessions
		WHERE user_id = $1 AND privileged AND expires_at > $2
	`, userID, time.Now().Unix()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n < cap, nil
}
