package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/bryonbaker/playerstats/internal/models"
)

// Options tunes an SQLStore.
type Options struct {
	// MaxOpenConns bounds the connection pool. SQLite always uses one
	// connection.
	MaxOpenConns int

	// PreserveFirstJoin keeps an existing first_join timestamp on rejoin.
	// When false every join resets first_join to now.
	PreserveFirstJoin bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	name        string
	counterType string
	floatType   string
	sizeQuery   string
	positional  bool
}

var dialects = map[string]dialect{
	"sqlite3": {
		name:        "sqlite3",
		counterType: "INTEGER",
		floatType:   "REAL",
	},
	"postgres": {
		name:        "postgres",
		counterType: "BIGINT",
		floatType:   "DOUBLE PRECISION",
		sizeQuery:   "SELECT pg_database_size(current_database())",
		positional:  true,
	},
}

// SQLStore implements DataStore on database/sql using either the go-sqlite3
// or the lib/pq driver. Every operation acquires a connection from the pool,
// uses it and releases it.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	opts    Options
	logger  *zap.Logger
}

// Ensure SQLStore satisfies the DataStore interface at compile time.
var _ DataStore = (*SQLStore)(nil)

// NewSQLStore opens the database for driver ("sqlite3" or "postgres") at dsn
// and creates the player_stats table if it does not already exist.
func NewSQLStore(driver, dsn string, opts Options, logger *zap.Logger) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if d.name == "sqlite3" {
		// Limit to a single connection so WAL mode works correctly for an
		// embedded database and we avoid "database is locked" errors.
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}

	s := &SQLStore{
		db:      db,
		dialect: d,
		opts:    opts,
		logger:  logger,
	}

	if d.name == "sqlite3" {
		if err := s.applyPragmas(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("player stats store initialised", zap.String("driver", driver))
	return s, nil
}

// applyPragmas sets the SQLite PRAGMAs required for correct operation.
func (s *SQLStore) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// createSchema creates the player_stats table.
func (s *SQLStore) createSchema() error {
	createTable := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS player_stats (
    uuid            TEXT PRIMARY KEY,
    username        TEXT NOT NULL,
    first_join      TEXT,
    last_logout     TEXT,
    time_played     %[1]s NOT NULL DEFAULT 0,
    deaths          %[1]s NOT NULL DEFAULT 0,
    mob_kills       %[1]s NOT NULL DEFAULT 0,
    player_kills    %[1]s NOT NULL DEFAULT 0,
    blocks_mined    %[1]s NOT NULL DEFAULT 0,
    blocks_placed   %[1]s NOT NULL DEFAULT 0,
    distance_walked %[2]s NOT NULL DEFAULT 0
);`, s.dialect.counterType, s.dialect.floatType)

	if _, err := s.db.Exec(createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(fmt.Errorf("ping: %w", err))
	}
	return nil
}

// UpsertIncrement inserts or increments a single stat column.
func (s *SQLStore) UpsertIncrement(ctx context.Context, playerID uuid.UUID, displayName string, column models.StatKind, delta float64) error {
	if !column.Valid() {
		return fmt.Errorf("upsert %q: %w", column, ErrStoreConstraintViolation)
	}

	// column is one of a fixed set of identifiers, so formatting it into the
	// statement is safe.
	query := fmt.Sprintf(`
INSERT INTO player_stats (uuid, username, %[1]s) VALUES (?, ?, ?)
ON CONFLICT (uuid) DO UPDATE SET
    %[1]s = player_stats.%[1]s + excluded.%[1]s,
    username = excluded.username`, column)

	var arg interface{} = delta
	if column.IsCounter() {
		arg = int64(delta)
	}

	_, err := s.exec(ctx, query, playerID.String(), displayName, arg)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", column, err)
	}
	return nil
}

// TouchFirstJoin records the join timestamp.
func (s *SQLStore) TouchFirstJoin(ctx context.Context, playerID uuid.UUID, displayName string) error {
	onConflict := "first_join = excluded.first_join"
	if s.opts.PreserveFirstJoin {
		onConflict = "first_join = COALESCE(player_stats.first_join, excluded.first_join)"
	}
	query := `
INSERT INTO player_stats (uuid, username, first_join) VALUES (?, ?, ?)
ON CONFLICT (uuid) DO UPDATE SET
    ` + onConflict + `,
    username = excluded.username`

	_, err := s.exec(ctx, query, playerID.String(), displayName, s.nowString())
	if err != nil {
		return fmt.Errorf("touch first join: %w", err)
	}
	return nil
}

// TouchLastLogout records the logout timestamp on an existing row.
func (s *SQLStore) TouchLastLogout(ctx context.Context, playerID uuid.UUID) error {
	const query = `UPDATE player_stats SET last_logout = ? WHERE uuid = ?`
	n, err := s.exec(ctx, query, s.nowString(), playerID.String())
	if err != nil {
		return fmt.Errorf("touch last logout: %w", err)
	}
	if n == 0 {
		s.logger.Debug("last logout not recorded, no row for player",
			zap.String("player_id", playerID.String()),
		)
	}
	return nil
}

// IncrementTimePlayed adds seconds to an existing row's time_played.
func (s *SQLStore) IncrementTimePlayed(ctx context.Context, playerID uuid.UUID, seconds int64) error {
	const query = `UPDATE player_stats SET time_played = time_played + ? WHERE uuid = ?`
	n, err := s.exec(ctx, query, seconds, playerID.String())
	if err != nil {
		return fmt.Errorf("increment time played: %w", err)
	}
	if n == 0 {
		s.logger.Debug("time played not recorded, no row for player",
			zap.String("player_id", playerID.String()),
		)
	}
	return nil
}

// GetPlayer reads one row.
func (s *SQLStore) GetPlayer(ctx context.Context, playerID uuid.UUID) (*models.PlayerRow, error) {
	query := s.rebind(`SELECT
    uuid, username, first_join, last_logout, time_played, deaths, mob_kills,
    player_kills, blocks_mined, blocks_placed, distance_walked
FROM player_stats WHERE uuid = ?`)

	var row models.PlayerRow
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		var id string
		var firstJoin, lastLogout sql.NullString
		err := conn.QueryRowContext(ctx, query, playerID.String()).Scan(
			&id,
			&row.DisplayName,
			&firstJoin,
			&lastLogout,
			&row.TimePlayed,
			&row.Deaths,
			&row.MobKills,
			&row.PlayerKills,
			&row.BlocksMined,
			&row.BlocksPlaced,
			&row.DistanceWalked,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPlayerNotFound
		}
		if err != nil {
			return classify(err)
		}

		if row.PlayerID, err = uuid.Parse(id); err != nil {
			return fmt.Errorf("parse uuid: %w", err)
		}
		if row.FirstJoin, err = parseNullableTime(firstJoin); err != nil {
			return fmt.Errorf("parse first_join: %w", err)
		}
		if row.LastLogout, err = parseNullableTime(lastLogout); err != nil {
			return fmt.Errorf("parse last_logout: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get player %s: %w", playerID, err)
	}
	return &row, nil
}

// GetDatabaseSizeBytes returns the size of the database. For SQLite this is
// page_count * page_size.
func (s *SQLStore) GetDatabaseSizeBytes(ctx context.Context) (int64, error) {
	var size int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		if s.dialect.sizeQuery != "" {
			return conn.QueryRowContext(ctx, s.dialect.sizeQuery).Scan(&size)
		}

		var pageCount, pageSize int64
		if err := conn.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
			return fmt.Errorf("page_count: %w", err)
		}
		if err := conn.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
			return fmt.Errorf("page_size: %w", err)
		}
		size = pageCount * pageSize
		return nil
	})
	if err != nil {
		return 0, classify(fmt.Errorf("database size: %w", err))
	}
	return size, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// withConn acquires a pooled connection for the duration of fn.
func (s *SQLStore) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return classify(fmt.Errorf("acquire connection: %w", err))
	}
	defer conn.Close()
	return fn(conn)
}

// exec runs a single-statement write on its own pooled connection and
// returns the number of affected rows.
func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	query = s.rebind(query)
	var affected int64
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return classify(err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			// The write itself committed; the count is informational.
			affected = -1
		}
		return nil
	})
	return affected, err
}

// rebind rewrites '?' placeholders as $1, $2, ... for positional dialects.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.positional {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) nowString() string {
	return s.opts.Now().UTC().Format(time.RFC3339)
}

// classify maps driver errors onto ErrStoreConstraintViolation or
// ErrStoreUnavailable. Already classified errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrStoreConstraintViolation) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %w", ErrStoreConstraintViolation, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %w", ErrStoreConstraintViolation, err)
	}

	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// parseNullableTime converts a sql.NullString in RFC3339 format to a *time.Time.
func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
