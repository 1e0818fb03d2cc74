package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/handoff-hub/handoff-hub/internal/domain/ledger"
)

// Ledger implements ledger.Ledger on postgres. Every put appends to the
// history table in the same transaction as the head update, so history is
// exactly the sequence of committed versions.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) Get(ctx context.Context, key string) (*ledger.Record, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT key, value, version, written_at
		FROM ledger_records WHERE key=$1
	`, key)
	return scanRecord(row)
}

func (l *Ledger) Put(ctx context.Context, key string, value json.RawMessage, expectedVersion uint64) (*ledger.Record, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	next := expectedVersion + 1

	if expectedVersion == 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_records (key, value, version, written_at)
			VALUES ($1,$2,$3,$4)
		`, key, value, next, now)
		if isUniqueViolation(err) {
			return nil, ledger.ErrKeyExists
		}
	} else {
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx, `
			UPDATE ledger_records SET value=$2, version=$3, written_at=$4
			WHERE key=$1 AND version=$5
		`, key, value, next, now, expectedVersion)
		if err == nil && tag.RowsAffected() == 0 {
			return nil, ledger.ErrVersionConflict
		}
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_history (key, value, version, written_at)
		VALUES ($1,$2,$3,$4)
	`, key, value, next, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ledger.Record{Key: key, Value: value, Version: next, WrittenAt: now}, nil
}

func (l *Ledger) History(ctx context.Context, key string) ([]ledger.Record, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT key, value, version, written_at
		FROM ledger_history WHERE key=$1 ORDER BY version ASC
	`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ledger.ErrKeyNotFound
	}
	return out, nil
}

func (l *Ledger) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT key FROM ledger_records WHERE key LIKE $1 || '%' ORDER BY key ASC
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ledger.Record, error) {
	var rec ledger.Record
	err := row.Scan(&rec.Key, &rec.Value, &rec.Version, &rec.WrittenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
