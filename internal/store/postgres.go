package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/feedmap/internal/core"
)

// PostgreSQL SQLSTATE codes mapped to validation reasons.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// DBTX is the subset of pgxpool.Pool used by the store.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is a ConfigStore backed by PostgreSQL.
type Postgres struct {
	db DBTX
}

// NewPostgres creates a store on db. Call Migrate once before use.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

var _ core.ConfigStore = (*Postgres)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS feed_groups (
    name         TEXT PRIMARY KEY,
    source_url   TEXT NOT NULL,
    update_times TEXT[] NOT NULL DEFAULT '{}',
    rules        TEXT NOT NULL DEFAULT '',
    fields       TEXT[],
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feed_channels (
    name       TEXT PRIMARY KEY,
    group_name TEXT NOT NULL REFERENCES feed_groups (name) ON DELETE RESTRICT,
    fields     JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS feed_channels_group_name_idx ON feed_channels (group_name);
`

// Migrate creates the store's tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate config store: %w", err)
	}
	slog.Info("config store schema ready")
	return nil
}

const insertGroupSQL = `
INSERT INTO feed_groups (name, source_url, update_times, rules, fields, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

func (p *Postgres) CreateGroup(ctx context.Context, g core.Group) (core.Group, error) {
	_, err := p.db.Exec(ctx, insertGroupSQL,
		g.Name, g.SourceURL, nonNil(g.UpdateTimes), g.Rules, g.Fields, g.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return core.Group{}, core.NewValidationError(core.ErrDuplicateName, "name",
				"group %q already exists", g.Name)
		}
		return core.Group{}, fmt.Errorf("insert group %s: %w", g.Name, err)
	}
	return g, nil
}

const selectGroupSQL = `
SELECT name, source_url, update_times, rules, fields, created_at
FROM feed_groups`

func (p *Postgres) GetGroup(ctx context.Context, name string) (core.Group, error) {
	row := p.db.QueryRow(ctx, selectGroupSQL+" WHERE name = $1", name)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Group{}, fmt.Errorf("group %s: %w", name, core.ErrNotFound)
		}
		return core.Group{}, fmt.Errorf("get group %s: %w", name, err)
	}
	return g, nil
}

func (p *Postgres) ListGroups(ctx context.Context) ([]core.Group, error) {
	rows, err := p.db.Query(ctx, selectGroupSQL+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	groups := []core.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// DeleteGroup removes a group no channel references. The reference check
// and the delete share a transaction; the foreign key catches any channel
// created concurrently.
func (p *Postgres) DeleteGroup(ctx context.Context, name string) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Warn("rollback failed", "error", err)
		}
	}()

	rows, err := tx.Query(ctx, "SELECT name FROM feed_channels WHERE group_name = $1 ORDER BY name", name)
	if err != nil {
		return fmt.Errorf("find channels of group %s: %w", name, err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("find channels of group %s: %w", name, err)
	}
	if len(users) > 0 {
		return core.NewValidationError(core.ErrGroupInUse, "name",
			"group %q is used by channel(s) %s", name, strings.Join(users, ", "))
	}

	tag, err := tx.Exec(ctx, "DELETE FROM feed_groups WHERE name = $1", name)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return core.NewValidationError(core.ErrGroupInUse, "name",
				"group %q is used by a channel", name)
		}
		return fmt.Errorf("delete group %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s: %w", name, core.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete group %s: %w", name, err)
	}
	return nil
}

func (p *Postgres) SetGroupFields(ctx context.Context, name string, fields []string) error {
	tag, err := p.db.Exec(ctx, "UPDATE feed_groups SET fields = $2 WHERE name = $1", name, nonNil(fields))
	if err != nil {
		return fmt.Errorf("update fields of group %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s: %w", name, core.ErrNotFound)
	}
	return nil
}

const insertChannelSQL = `
INSERT INTO feed_channels (name, group_name, fields, created_at)
VALUES ($1, $2, $3, $4)`

func (p *Postgres) CreateChannel(ctx context.Context, c core.Channel) (core.Channel, error) {
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return core.Channel{}, fmt.Errorf("encode channel fields: %w", err)
	}

	if _, err := p.db.Exec(ctx, insertChannelSQL, c.Name, c.Group, fields, c.CreatedAt); err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return core.Channel{}, core.NewValidationError(core.ErrDuplicateName, "name",
				"channel %q already exists", c.Name)
		case pgForeignKeyViolation:
			return core.Channel{}, core.NewValidationError(core.ErrDanglingReference, "group",
				"group %q does not exist", c.Group)
		}
		return core.Channel{}, fmt.Errorf("insert channel %s: %w", c.Name, err)
	}
	return c, nil
}

const selectChannelSQL = `
SELECT name, group_name, fields, created_at
FROM feed_channels`

func (p *Postgres) GetChannel(ctx context.Context, name string) (core.Channel, error) {
	row := p.db.QueryRow(ctx, selectChannelSQL+" WHERE name = $1", name)
	c, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Channel{}, fmt.Errorf("channel %s: %w", name, core.ErrNotFound)
		}
		return core.Channel{}, fmt.Errorf("get channel %s: %w", name, err)
	}
	return c, nil
}

func (p *Postgres) ListChannels(ctx context.Context) ([]core.Channel, error) {
	rows, err := p.db.Query(ctx, selectChannelSQL+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	channels := []core.Channel{}
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}

func scanGroup(row pgx.Row) (core.Group, error) {
	var g core.Group
	err := row.Scan(&g.Name, &g.SourceURL, &g.UpdateTimes, &g.Rules, &g.Fields, &g.CreatedAt)
	if g.UpdateTimes == nil {
		g.UpdateTimes = []string{}
	}
	return g, err
}

func scanChannel(row pgx.Row) (core.Channel, error) {
	var (
		c      core.Channel
		fields []byte
	)
	if err := row.Scan(&c.Name, &c.Group, &fields, &c.CreatedAt); err != nil {
		return core.Channel{}, err
	}
	if err := json.Unmarshal(fields, &c.Fields); err != nil {
		return core.Channel{}, fmt.Errorf("decode fields of channel %s: %w", c.Name, err)
	}
	return c, nil
}

// pgCode returns the SQLSTATE of a PostgreSQL error, or "".
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
