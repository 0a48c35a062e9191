package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doeshing/sysadvisor/internal/domain"
	"github.com/doeshing/sysadvisor/internal/ports"
)

// SQLiteStore persists history in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	timestamp_ns INTEGER NOT NULL,
	query TEXT NOT NULL,
	model TEXT,
	dry_run INTEGER,
	steps INTEGER,
	denied INTEGER,
	termination TEXT,
	summary TEXT,
	duration_ms INTEGER,
	transcript TEXT
);
CREATE INDEX IF NOT EXISTS runs_timestamp ON runs(timestamp_ns);`

// NewSQLiteStore creates (or opens) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// One writer at a time; the CLI never needs more.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history %s: %w", path, err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Save inserts or replaces a record.
func (s *SQLiteStore) Save(ctx context.Context, record domain.HistoryRecord) error {
	transcript, err := encodeTranscript(record.Transcript)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs
		(id, timestamp_ns, query, model, dry_run, steps, denied, termination, summary, duration_ms, transcript)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Timestamp.UnixNano(),
		record.Query,
		record.Model,
		boolToInt(record.DryRun),
		record.Steps,
		record.Denied,
		string(record.Termination),
		record.Summary,
		record.DurationMS,
		transcript,
	)
	return err
}

// likeEscaper makes user input literal inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// Records returns history entries, newest first (limit/search optional).
func (s *SQLiteStore) Records(ctx context.Context, limit int, search string) ([]domain.HistoryRecord, error) {
	builder := strings.Builder{}
	builder.WriteString(selectColumns)
	var args []interface{}
	if search != "" {
		builder.WriteString(` WHERE query LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\' OR transcript LIKE ? ESCAPE '\'`)
		pattern := "%" + likeEscaper.Replace(search) + "%"
		args = append(args, pattern, pattern, pattern)
	}
	builder.WriteString(" ORDER BY timestamp_ns DESC")
	if limit > 0 {
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get looks a record up by id or unique id prefix.
func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.HistoryRecord, error) {
	if id == "" {
		return domain.HistoryRecord{}, domain.ErrRecordNotFound
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id = ? DESC LIMIT 2`, id, likeEscaper.Replace(id)+"%", id)
	if err != nil {
		return domain.HistoryRecord{}, err
	}
	defer rows.Close()

	var found []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return domain.HistoryRecord{}, err
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
		return domain.HistoryRecord{}, err
	}
	return pickRecord(id, found)
}

// Prune deletes records older than before.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE timestamp_ns < ?", before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Clear deletes all history entries.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs")
	return err
}

// Path returns the sqlite database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = "SELECT id, timestamp_ns, query, model, dry_run, steps, denied, termination, summary, duration_ms, transcript FROM runs"

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.HistoryRecord, error) {
	var (
		rec         domain.HistoryRecord
		ts          int64
		dryRun      int
		model       sql.NullString
		termination sql.NullString
		summary     sql.NullString
		transcript  sql.NullString
	)
	if err := row.Scan(&rec.ID, &ts, &rec.Query, &model, &dryRun, &rec.Steps, &rec.Denied, &termination, &summary, &rec.DurationMS, &transcript); err != nil {
		return domain.HistoryRecord{}, err
	}
	rec.Timestamp = time.Unix(0, ts)
	rec.Model = model.String
	rec.DryRun = dryRun == 1
	rec.Termination = domain.Termination(termination.String)
	rec.Summary = summary.String
	if transcript.Valid && transcript.String != "" {
		var t domain.Transcript
		if err := json.Unmarshal([]byte(transcript.String), &t); err != nil {
			return domain.HistoryRecord{}, fmt.Errorf("decode transcript %s: %w", rec.ID, err)
		}
		rec.Transcript = &t
	}
	return rec, nil
}

func encodeTranscript(t *domain.Transcript) (string, error) {
	if t == nil {
		return "", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// pickRecord resolves an exact match or a single prefix match.
func pickRecord(id string, found []domain.HistoryRecord) (domain.HistoryRecord, error) {
	switch {
	case len(found) == 0:
		return domain.HistoryRecord{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
	case found[0].ID == id || len(found) == 1:
		return found[0], nil
	default:
		return domain.HistoryRecord{}, fmt.Errorf("id prefix %q is ambiguous", id)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ ports.HistoryRepository = (*SQLiteStore)(nil)
