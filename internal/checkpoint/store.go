package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lss53/tencent-table-ocr-batch/internal/common"
	"github.com/lss53/tencent-table-ocr-batch/internal/entity"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT    NOT NULL,
	completed  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	identifier     TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	rows_json      TEXT,
	reason_code    TEXT,
	message        TEXT,
	retryable      INTEGER NOT NULL DEFAULT 0,
	attempts       INTEGER NOT NULL DEFAULT 0,
	checkpoint_seq INTEGER NOT NULL,
	completed_at   TEXT NOT NULL
);
`

// Record is one checkpointed terminal result read back from the store.
type Record struct {
	Identifier string
	Status     string
	Rows       []entity.TableRow
	Reason     string
	Message    string
	Retried    bool
	Attempts   int
}

// Store persists terminal results and progress markers in a local SQLite
// database. A flush is one transaction: rows, failures and the progress
// marker land together or not at all, so the previous checkpoint always
// survives an interrupted write. Identifiers are primary keys, which makes
// reprocessing after an interrupted run a last-write-wins upsert.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the checkpoint database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, common.PersistenceError("open checkpoint db", err)
	}
	// A single writer goroutine owns all mutation; one connection keeps
	// sqlite locking out of the picture.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, common.PersistenceError("set journal mode", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, common.PersistenceError("create checkpoint schema", err)
	}

	logger.Info("checkpoint.store.open", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCheckpoint durably records a batch of terminal results and advances
// the progress marker, all in one transaction.
func (s *Store) SaveCheckpoint(ctx context.Context, batch []entity.TaskResult) (int64, error) {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, common.PersistenceError("begin checkpoint tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (created_at, completed) VALUES (?, 0)`, now)
	if err != nil {
		return 0, common.PersistenceError("insert checkpoint", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, common.PersistenceError("checkpoint seq", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO results
		 (identifier, status, rows_json, reason_code, message, retryable, attempts, checkpoint_seq, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, common.PersistenceError("prepare result insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, tr := range batch {
		var (
			status    = StatusFailed
			rowsJSON  sql.NullString
			reason    string
			message   string
			retryable bool
		)
		if tr.Result.OK {
			status = StatusOK
			encoded, err := json.Marshal(tr.Result.Rows)
			if err != nil {
				return 0, common.PersistenceError(fmt.Sprintf("encode rows for %s", tr.Identifier), err)
			}
			rowsJSON = sql.NullString{String: string(encoded), Valid: true}
		} else {
			reason = tr.Result.Failure.Reason
			message = tr.Result.Failure.Message
			retryable = tr.Result.Failure.Retryable
		}
		if _, err := stmt.ExecContext(ctx,
			tr.Identifier, status, rowsJSON, reason, message, retryable, tr.Attempts, seq, now,
		); err != nil {
			return 0, common.PersistenceError(fmt.Sprintf("record result for %s", tr.Identifier), err)
		}
	}

	// Upserts may replace reprocessed identifiers, so the completed marker
	// is counted after them to stay in step with the results table.
	if _, err := tx.ExecContext(ctx,
		`UPDATE checkpoints SET completed = (SELECT COUNT(*) FROM results) WHERE seq = ?`, seq,
	); err != nil {
		return 0, common.PersistenceError("update checkpoint marker", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, common.PersistenceError("commit checkpoint", err)
	}

	s.logger.Info("checkpoint.flush.ok",
		"seq", seq,
		"batch", len(batch),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return seq, nil
}

// CompletedIdentifiers returns the set of identifiers with a terminal
// result in the store; the scanner output is filtered against it when
// resuming an interrupted run.
func (s *Store) CompletedIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identifier FROM results`)
	if err != nil {
		return nil, common.PersistenceError("query completed identifiers", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, common.PersistenceError("scan identifier", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// LoadAll reads every checkpointed result back, ordered by identifier so
// the aggregated output is deterministic regardless of completion order.
func (s *Store) LoadAll(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier, status, rows_json, reason_code, message, retryable, attempts
		 FROM results ORDER BY identifier`)
	if err != nil {
		return nil, common.PersistenceError("query results", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			rowsJSON  sql.NullString
			retryable bool
		)
		if err := rows.Scan(&rec.Identifier, &rec.Status, &rowsJSON, &rec.Reason, &rec.Message, &retryable, &rec.Attempts); err != nil {
			return nil, common.PersistenceError("scan result", err)
		}
		if rowsJSON.Valid {
			if err := json.Unmarshal([]byte(rowsJSON.String), &rec.Rows); err != nil {
				return nil, common.PersistenceError(fmt.Sprintf("decode rows for %s", rec.Identifier), err)
			}
		}
		rec.Retried = rec.Attempts > 1 || (rec.Status == StatusFailed && retryable)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CheckpointCount reports how many checkpoints have been written.
func (s *Store) CheckpointCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkpoints`).Scan(&n)
	if err != nil {
		return 0, common.PersistenceError("count checkpoints", err)
	}
	return n, nil
}
