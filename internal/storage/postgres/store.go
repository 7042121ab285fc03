// Package postgres provides the Postgres-backed backlink store.
//
// Tables: backlinks, backlink_checks, alerts, projects (id, user_id, name) and
// users (id, webhook_url, webhook_secret, webhook_events text[]). backlinks.version
// is the optimistic-concurrency token bumped by every verification commit.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements backlink.Store on Postgres.
type Store struct {
	pool pool
}

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

const backlinkColumns = `id, project_id, source_url, target_url, anchor_text, status, http_status,
	rel_attributes, is_dofollow, tier_level, price::text, domain_authority, first_seen_at,
	last_checked_at, version`

// GetBacklink fetches a backlink by ID.
func (s *Store) GetBacklink(ctx context.Context, id int64) (backlink.Backlink, error) {
	query := `SELECT ` + backlinkColumns + ` FROM backlinks WHERE id = $1;`
	b, err := scanBacklink(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return backlink.Backlink{}, fmt.Errorf("backlink %d: %w", id, backlink.ErrNotFound)
		}
		return backlink.Backlink{}, fmt.Errorf("failed to get backlink: %w", err)
	}
	return b, nil
}

// ListDue returns matching backlinks, never-checked first, then oldest check first.
func (s *Store) ListDue(ctx context.Context, sel backlink.Selection, now time.Time) ([]backlink.Backlink, error) {
	query := `
		SELECT ` + backlinkColumns + `
		FROM backlinks
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::bigint IS NULL OR project_id = $2)
		  AND ($3::timestamptz IS NULL OR last_checked_at IS NULL OR last_checked_at < $3)
		ORDER BY last_checked_at ASC NULLS FIRST, id ASC
		LIMIT $4;
	`
	var status *string
	if sel.Status != "" && sel.Status != backlink.StatusAll {
		v := string(sel.Status)
		status = &v
	}
	rows, err := s.pool.Query(ctx, query, status, sel.ProjectID, sel.StaleBefore(now), limitArg(sel.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list due backlinks: %w", err)
	}
	defer rows.Close()

	var out []backlink.Backlink
	for rows.Next() {
		b, err := scanBacklink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backlink: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate backlinks: %w", err)
	}
	return out, nil
}

// CommitVerification writes the backlink fields, the check and the optional alert in one transaction.
func (s *Store) CommitVerification(ctx context.Context, commit backlink.VerificationCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := s.writeVerification(ctx, tx, commit); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) writeVerification(ctx context.Context, tx pgx.Tx, commit backlink.VerificationCommit) error {
	b := commit.Backlink
	tag, err := tx.Exec(ctx, `
		UPDATE backlinks
		SET status = $1, http_status = $2, rel_attributes = $3, is_dofollow = $4,
			anchor_text = $5, last_checked_at = $6, version = version + 1
		WHERE id = $7 AND version = $8;`,
		string(b.Status), b.HTTPStatus, b.RelAttributes, b.IsDofollow,
		b.AnchorText, b.LastCheckedAt, b.ID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update backlink: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := tx.QueryRow(ctx, `SELECT 1 FROM backlinks WHERE id = $1;`, b.ID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("backlink %d: %w", b.ID, backlink.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check backlink: %w", err)
		}
		return backlink.ErrConflict
	}

	c := commit.Check
	_, err = tx.Exec(ctx, `
		INSERT INTO backlink_checks (
			id, backlink_id, checked_at, is_present, http_status, anchor_text,
			rel_attributes, error_message, snapshot_uri
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);`,
		c.ID, c.BacklinkID, c.CheckedAt, c.IsPresent, c.HTTPStatus, c.AnchorText,
		c.RelAttributes, c.ErrorMessage, c.SnapshotURI,
	)
	if err != nil {
		return fmt.Errorf("failed to insert check: %w", err)
	}

	if a := commit.Alert; a != nil {
		metadata, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal alert metadata: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO alerts (
				id, backlink_id, project_id, type, severity, title, message, metadata, is_read, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`,
			a.ID, a.BacklinkID, a.ProjectID, string(a.Type), string(a.Severity), a.Title,
			a.Message, metadata, a.IsRead, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
	}
	return nil
}

// AcknowledgeChange resets a changed backlink to active.
func (s *Store) AcknowledgeChange(ctx context.Context, id int64) (backlink.Backlink, error) {
	query := `
		UPDATE backlinks SET status = 'active', version = version + 1
		WHERE id = $1 AND status = 'changed'
		RETURNING ` + backlinkColumns + `;`
	b, err := scanBacklink(s.pool.QueryRow(ctx, query, id))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return backlink.Backlink{}, fmt.Errorf("failed to acknowledge backlink: %w", err)
	}
	if _, err := s.GetBacklink(ctx, id); err != nil {
		return backlink.Backlink{}, err
	}
	return backlink.Backlink{}, backlink.ErrNotChanged
}

// UpdateDomainAuthority stores an SEO score for a backlink.
func (s *Store) UpdateDomainAuthority(ctx context.Context, id int64, authority int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE backlinks SET domain_authority = $1 WHERE id = $2;`, authority, id)
	if err != nil {
		return fmt.Errorf("failed to update domain authority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("backlink %d: %w", id, backlink.ErrNotFound)
	}
	return nil
}

// ListChecks returns the newest checks first.
func (s *Store) ListChecks(ctx context.Context, backlinkID int64, limit int) ([]backlink.Check, error) {
	query := `
		SELECT id, backlink_id, checked_at, is_present, http_status, anchor_text,
			rel_attributes, error_message, snapshot_uri
		FROM backlink_checks
		WHERE backlink_id = $1
		ORDER BY checked_at DESC, id DESC
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, backlinkID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	defer rows.Close()

	var out []backlink.Check
	for rows.Next() {
		var c backlink.Check
		if err := rows.Scan(
			&c.ID,
			&c.BacklinkID,
			&c.CheckedAt,
			&c.IsPresent,
			&c.HTTPStatus,
			&c.AnchorText,
			&c.RelAttributes,
			&c.ErrorMessage,
			&c.SnapshotURI,
		); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checks: %w", err)
	}
	return out, nil
}

// GetProject fetches a project by ID.
func (s *Store) GetProject(ctx context.Context, id int64) (backlink.Project, error) {
	var p backlink.Project
	err := s.pool.QueryRow(ctx, `SELECT id, user_id, name FROM projects WHERE id = $1;`, id).
		Scan(&p.ID, &p.OwnerID, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return backlink.Project{}, fmt.Errorf("project %d: %w", id, backlink.ErrNotFound)
		}
		return backlink.Project{}, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// GetSubscriber fetches a user's webhook settings.
func (s *Store) GetSubscriber(ctx context.Context, userID int64) (backlink.Subscriber, error) {
	var (
		sub    backlink.Subscriber
		url    *string
		secret *string
		events []string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, webhook_url, webhook_secret, webhook_events FROM users WHERE id = $1;`, userID,
	).Scan(&sub.UserID, &url, &secret, &events)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return backlink.Subscriber{}, fmt.Errorf("subscriber %d: %w", userID, backlink.ErrNotFound)
		}
		return backlink.Subscriber{}, fmt.Errorf("failed to get subscriber: %w", err)
	}
	sub.WebhookURL = backlink.StringValue(url)
	sub.WebhookSecret = backlink.StringValue(secret)
	for _, e := range events {
		sub.WebhookEvents = append(sub.WebhookEvents, backlink.AlertType(e))
	}
	return sub, nil
}

const alertColumns = `id, backlink_id, project_id, type, severity, title, message, metadata, is_read, created_at`

// GetAlert fetches an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (backlink.Alert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1;`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return backlink.Alert{}, fmt.Errorf("alert %s: %w", id, backlink.ErrNotFound)
		}
		return backlink.Alert{}, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, unreadOnly bool, limit int) ([]backlink.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE (NOT $1 OR is_read = false)
		ORDER BY created_at DESC, id DESC
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, unreadOnly, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []backlink.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return out, nil
}

// MarkAlertRead flags an alert as read.
func (s *Store) MarkAlertRead(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET is_read = true WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s: %w", id, backlink.ErrNotFound)
	}
	return nil
}

// DeleteReadAlertsBefore drops read alerts created before cutoff.
func (s *Store) DeleteReadAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE is_read = true AND created_at < $1;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete alerts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanBacklink(row pgx.Row) (backlink.Backlink, error) {
	var (
		b      backlink.Backlink
		status string
		tier   string
		price  *string
	)
	err := row.Scan(
		&b.ID,
		&b.ProjectID,
		&b.SourceURL,
		&b.TargetURL,
		&b.AnchorText,
		&status,
		&b.HTTPStatus,
		&b.RelAttributes,
		&b.IsDofollow,
		&tier,
		&price,
		&b.DomainAuthority,
		&b.FirstSeenAt,
		&b.LastCheckedAt,
		&b.Version,
	)
	if err != nil {
		return backlink.Backlink{}, err
	}
	b.Status = backlink.Status(status)
	b.TierLevel = backlink.TierLevel(tier)
	if price != nil {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return backlink.Backlink{}, fmt.Errorf("parse price %q: %w", *price, err)
		}
		b.Price = decimal.NewNullDecimal(d)
	}
	return b, nil
}

func scanAlert(row pgx.Row) (backlink.Alert, error) {
	var (
		a        backlink.Alert
		kind     string
		severity string
		metadata []byte
	)
	err := row.Scan(
		&a.ID,
		&a.BacklinkID,
		&a.ProjectID,
		&kind,
		&severity,
		&a.Title,
		&a.Message,
		&metadata,
		&a.IsRead,
		&a.CreatedAt,
	)
	if err != nil {
		return backlink.Alert{}, err
	}
	a.Type = backlink.AlertType(kind)
	a.Severity = backlink.Severity(severity)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return backlink.Alert{}, fmt.Errorf("decode alert metadata: %w", err)
		}
	}
	return a, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres treats as LIMIT ALL.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
