package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cavaliercoder/puppet-enc-ec2/model"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

const defaultDBPath = "~/.puppet-enc-ec2/cache.db"

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// NewService creates a SQLite-backed storage service.
func NewService(dbPath string) (Service, error) {
	resolved, err := resolvePath(dbPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	// Puppet Server compiles catalogs in parallel, so several ENC processes
	// share this file.
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000;", "PRAGMA journal_mode = WAL;"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaV1); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &service{db: db, dbPath: resolved, now: time.Now}, nil
}

type service struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

func resolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		p = defaultDBPath
	}
	if strings.HasPrefix(p, "~/") || p == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home dir: %w", err)
		}
		if p == "~" {
			p = home
		} else {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Clean(p), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func (s *service) SaveClassification(ctx context.Context, entry CachedClassification) error {
	if entry.Certname == "" {
		return errors.New("certname is required")
	}
	if entry.ClassifiedAt.IsZero() {
		entry.ClassifiedAt = s.now()
	}
	doc, err := yaml.Marshal(entry.Classification)
	if err != nil {
		return fmt.Errorf("failed to encode classification: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classifications (
			certname, instance_id, region, account_id, environment, document, classified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(certname) DO UPDATE SET
			instance_id=excluded.instance_id,
			region=excluded.region,
			account_id=excluded.account_id,
			environment=excluded.environment,
			document=excluded.document,
			classified_at=excluded.classified_at
	`, entry.Certname, entry.InstanceID, entry.Region, entry.AccountID,
		entry.Classification.Environment, string(doc), formatTime(entry.ClassifiedAt))
	return err
}

func (s *service) GetClassification(ctx context.Context, certname string) (*CachedClassification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT certname, instance_id, region, account_id, document, classified_at
		FROM classifications WHERE certname=?
	`, certname)
	entry, err := scanClassification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, certname)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) DeleteClassification(ctx context.Context, certname string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM classifications WHERE certname=?`, certname)
	return err
}

func (s *service) ListClassifications(ctx context.Context, limit int) ([]CachedClassification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT certname, instance_id, region, account_id, document, classified_at
		FROM classifications ORDER BY classified_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CachedClassification{}
	for rows.Next() {
		entry, err := scanClassification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClassification(row rowScanner) (*CachedClassification, error) {
	var (
		entry     CachedClassification
		accountID sql.NullString
		doc       string
		ts        string
	)
	if err := row.Scan(&entry.Certname, &entry.InstanceID, &entry.Region, &accountID, &doc, &ts); err != nil {
		return nil, err
	}
	entry.AccountID = accountID.String

	entry.Classification = model.NewClassification()
	if err := yaml.Unmarshal([]byte(doc), &entry.Classification); err != nil {
		return nil, fmt.Errorf("corrupt cached classification for %s: %w", entry.Certname, err)
	}
	if entry.Classification.Classes == nil {
		entry.Classification.Classes = map[string]map[string]any{}
	}
	if entry.Classification.Parameters == nil {
		entry.Classification.Parameters = map[string]any{}
	}

	classifiedAt, err := parseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp for %s: %w", entry.Certname, err)
	}
	entry.ClassifiedAt = classifiedAt
	return &entry, nil
}

func (s *service) RecordLookup(ctx context.Context, rec LookupRecord) error {
	if rec.Certname == "" {
		return errors.New("certname is required")
	}
	if rec.LookupUUID == "" {
		rec.LookupUUID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lookups (lookup_uuid, certname, instance_id, source, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.LookupUUID, rec.Certname, rec.InstanceID, rec.Source, rec.Duration.Milliseconds(), rec.Error, formatTime(rec.CreatedAt))
	return err
}

func (s *service) RecentLookups(ctx context.Context, certname string, limit int) ([]LookupRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT lookup_uuid, certname, instance_id, source, duration_ms, error, created_at
		FROM lookups
	`
	args := []any{}
	if certname != "" {
		query += " WHERE certname=?"
		args = append(args, certname)
	}
	query += " ORDER BY created_at DESC, lookup_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []LookupRecord{}
	for rows.Next() {
		var (
			rec        LookupRecord
			instanceID sql.NullString
			errText    sql.NullString
			durationMS int64
			ts         string
		)
		if err := rows.Scan(&rec.LookupUUID, &rec.Certname, &instanceID, &rec.Source, &durationMS, &errText, &ts); err != nil {
			return nil, err
		}
		rec.InstanceID = instanceID.String
		rec.Error = errText.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if rec.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *service) LookupCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*) FROM lookups WHERE created_at >= ? GROUP BY source
	`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			source string
			count  int
		)
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}
		out[source] = count
	}
	return out, rows.Err()
}

func (s *service) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *service) Reindex(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "REINDEX")
	return err
}

// PurgeOlderThan drops history rows and cache entries not refreshed within
// the given number of days.
func (s *service) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, errors.New("days must be > 0")
	}
	cutoff := formatTime(s.now().Add(-time.Duration(days) * 24 * time.Hour))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, q := range []string{
		`DELETE FROM lookups WHERE created_at < ?`,
		`DELETE FROM classifications WHERE classified_at < ?`,
	} {
		res, err := tx.ExecContext(ctx, q, cutoff)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *service) Close() error {
	return s.db.Close()
}
