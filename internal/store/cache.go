// ABOUTME: Local SQLite cache of the last loaded profile and organization per principal.
// ABOUTME: Uses modernc.org/sqlite with WAL and automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Cache is a local SQLite write-through cache of profile data. The loader
// writes every successful load; the CLI reads it for offline display. It is
// never consulted on the authentication path.
type Cache struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCache opens (or creates) the cache database at the given path. Parent
// directories are created if needed.
func NewCache(path string, logger *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// WAL keeps reads from blocking the write-through path
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	c := &Cache{
		db:     db,
		logger: logger.With("component", "cache"),
	}
	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	c.logger.Debug("profile cache initialized", "path", path)
	return c, nil
}

// createSchema creates the cache tables if they don't exist.
func (c *Cache) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cached_profiles (
			id              TEXT PRIMARY KEY,
			business_role   TEXT,
			app_role        TEXT NOT NULL,
			organization_id TEXT,
			bio             TEXT NOT NULL DEFAULT '',
			cached_at       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cached_organizations (
			id          TEXT PRIMARY KEY,
			vertical_id TEXT NOT NULL,
			name        TEXT NOT NULL,
			cached_at   TEXT NOT NULL
		);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// PutProfile stores a loaded profile and, when present, its organization.
func (c *Cache) PutProfile(ctx context.Context, profile *Profile, org *Organization) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cache transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cached_profiles (id, business_role, app_role, organization_id, bio, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			business_role = excluded.business_role,
			app_role = excluded.app_role,
			organization_id = excluded.organization_id,
			bio = excluded.bio,
			cached_at = excluded.cached_at`,
		profile.ID, profile.BusinessRole, string(profile.AppRole), profile.OrganizationID, profile.Bio, now)
	if err != nil {
		return fmt.Errorf("caching profile: %w", err)
	}

	if org != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cached_organizations (id, vertical_id, name, cached_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				vertical_id = excluded.vertical_id,
				name = excluded.name,
				cached_at = excluded.cached_at`,
			org.ID, org.VerticalID, org.Name, now)
		if err != nil {
			return fmt.Errorf("caching organization: %w", err)
		}
	}

	return tx.Commit()
}

// GetProfile returns the cached profile for a principal and its organization
// if one is cached. Returns ErrNotFound when the principal has no cached
// profile.
func (c *Cache) GetProfile(ctx context.Context, principalID string) (*Profile, *Organization, error) {
	var p Profile
	var appRole string
	err := c.db.QueryRowContext(ctx, `
		SELECT id, business_role, app_role, organization_id, bio
		FROM cached_profiles WHERE id = ?`, principalID).
		Scan(&p.ID, &p.BusinessRole, &appRole, &p.OrganizationID, &p.Bio)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading cached profile: %w", err)
	}
	p.AppRole = AppRole(appRole)

	if p.OrganizationID == nil {
		return &p, nil, nil
	}

	var org Organization
	err = c.db.QueryRowContext(ctx, `
		SELECT id, vertical_id, name
		FROM cached_organizations WHERE id = ?`, *p.OrganizationID).
		Scan(&org.ID, &org.VerticalID, &org.Name)
	if err == sql.ErrNoRows {
		return &p, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading cached organization: %w", err)
	}
	return &p, &org, nil
}

// DeleteProfile removes a principal's cached profile. Used on sign-out.
func (c *Cache) DeleteProfile(ctx context.Context, principalID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cached_profiles WHERE id = ?`, principalID); err != nil {
		return fmt.Errorf("deleting cached profile: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
