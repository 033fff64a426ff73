package sqlite

import (
	"context"
	"database/sql"

	"github.com/groblegark/pulse/queue"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryAdd(ctx context.Context, db executor, e queue.Entry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO queue (uniqueID, timestamp, data) VALUES (?, ?, ?)`,
		e.UniqueID, e.Timestamp, e.Payload,
	)
	return err
}

func queryPeek(ctx context.Context, db executor) (*queue.Entry, error) {
	row := db.QueryRowContext(ctx, `
		SELECT uniqueID, timestamp, data FROM queue ORDER BY seq LIMIT 1`)
	var e queue.Entry
	if err := row.Scan(&e.UniqueID, &e.Timestamp, &e.Payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func queryPeekN(ctx context.Context, db executor, n int) ([]queue.Entry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT uniqueID, timestamp, data FROM queue ORDER BY seq LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.Entry
	for rows.Next() {
		var e queue.Entry
		if err := rows.Scan(&e.UniqueID, &e.Timestamp, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func queryRemove(ctx context.Context, db executor) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM queue WHERE seq = (SELECT MIN(seq) FROM queue)`)
	return err
}

func queryClear(ctx context.Context, db executor) error {
	_, err := db.ExecContext(ctx, `DELETE FROM queue`)
	return err
}

func queryCount(ctx context.Context, db executor) (int, error) {
	row := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
