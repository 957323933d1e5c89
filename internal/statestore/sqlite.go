package statestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps one JSON-encoded state row per guild. Row replacement is
// atomic under SQLite's transaction semantics, which satisfies the
// write-new-then-replace persistence contract.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	locks *guildLocks

	// subMu serializes subscription-map read-modify-write cycles.
	subMu sync.Mutex
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("statestore.path is required for sqlite driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, locks: newGuildLocks()}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
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

func (s *sqliteStore) readGuild(id platform.GuildID) (GuildState, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT state FROM guilds WHERE id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return GuildState{}, false, nil
	}
	if err != nil {
		return GuildState{}, false, fmt.Errorf("%w: %v", platform.ErrPersistence, err)
	}
	var g GuildState
	if err := decodeGuildState(raw, &g); err != nil {
		return GuildState{}, false, err
	}
	return g, true, nil
}

func (s *sqliteStore) Guild(id platform.GuildID) (GuildState, error) {
	g, _, err := s.readGuild(id)
	return g, err
}

func (s *sqliteStore) UpdateGuild(id platform.GuildID, fn func(*GuildState) error) error {
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	work, _, err := s.readGuild(id)
	if err != nil {
		return err
	}
	if err := fn(&work); err != nil {
		return err
	}

	raw, err := encodeGuildState(&work)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO guilds(id, state) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET state=excluded.state`,
		string(id), raw,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", platform.ErrPersistence, err)
	}
	return nil
}

func (s *sqliteStore) Guilds() ([]platform.GuildID, error) {
	rows, err := s.db.Query(`SELECT id FROM guilds`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrPersistence, err)
	}
	defer rows.Close()
	var out []platform.GuildID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", platform.ErrPersistence, err)
		}
		out = append(out, platform.GuildID(id))
	}
	return out, rows.Err()
}

func (s *sqliteStore) Subscriptions() (Subscriptions, error) {
	rows, err := s.db.Query(`SELECT user_id, kind FROM subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", platform.ErrPersistence, err)
	}
	defer rows.Close()
	subs := Subscriptions{}
	for rows.Next() {
		var uid, kind string
		if err := rows.Scan(&uid, &kind); err != nil {
			return nil, fmt.Errorf("%w: %v", platform.ErrPersistence, err)
		}
		u := platform.UserID(uid)
		if subs[u] == nil {
			subs[u] = map[string]bool{}
		}
		subs[u][kind] = true
	}
	return subs, rows.Err()
}

func (s *sqliteStore) UpdateSubscriptions(fn func(Subscriptions) error) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	work, err := s.Subscriptions()
	if err != nil {
		return err
	}
	if err := fn(work); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", platform.ErrPersistence, err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM subscriptions`); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrPersistence, err)
	}
	for uid, kinds := range work {
		for kind, on := range kinds {
			if !on {
				continue
			}
			if _, err := tx.Exec(
				`INSERT INTO subscriptions(user_id, kind) VALUES(?,?)`,
				string(uid), kind,
			); err != nil {
				return fmt.Errorf("%w: %v", platform.ErrPersistence, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", platform.ErrPersistence, err)
	}
	return nil
}
