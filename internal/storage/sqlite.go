package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"regionscan/internal/remote"
	logx "regionscan/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutResource(ctx context.Context, r remote.Resource) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.ScannedAt.IsZero() {
		r.ScannedAt = time.Now()
	}
	attrs, err := marshalNullable(r.Attributes, len(r.Attributes))
	if err != nil {
		return err
	}
	metrics, err := marshalNullable(r.Metrics, len(r.Metrics))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resources(target, id, type, name, attributes, metrics, monthly_cost, scanned_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(target, id) DO UPDATE SET
		   type=excluded.type, name=excluded.name, attributes=excluded.attributes,
		   metrics=excluded.metrics, monthly_cost=excluded.monthly_cost, scanned_at=excluded.scanned_at`,
		r.Target.Key(), r.ID, r.Type, nullStr(r.Name), attrs, metrics, r.MonthlyCost,
		r.ScannedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListResources(ctx context.Context, t remote.Target) ([]remote.Resource, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, name, attributes, metrics, monthly_cost, scanned_at
		 FROM resources WHERE target = ? ORDER BY id`, t.Key())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []remote.Resource
	for rows.Next() {
		var (
			r                    remote.Resource
			name, attrs, metrics sql.NullString
			scannedAt            string
		)
		if err := rows.Scan(&r.ID, &r.Type, &name, &attrs, &metrics, &r.MonthlyCost, &scannedAt); err != nil {
			return nil, err
		}
		r.Target = t
		r.Name = name.String
		if attrs.Valid {
			if err := json.Unmarshal([]byte(attrs.String), &r.Attributes); err != nil {
				return nil, fmt.Errorf("resource %s attributes: %w", r.ID, err)
			}
		}
		if metrics.Valid {
			if err := json.Unmarshal([]byte(metrics.String), &r.Metrics); err != nil {
				return nil, fmt.Errorf("resource %s metrics: %w", r.ID, err)
			}
		}
		if r.ScannedAt, err = time.Parse(time.RFC3339Nano, scannedAt); err != nil {
			return nil, fmt.Errorf("resource %s scanned_at: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteTarget(ctx context.Context, t remote.Target) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE target = ?`, t.Key())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func marshalNullable(v any, n int) (any, error) {
	if n == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
