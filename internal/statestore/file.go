package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

// fileStore keeps the whole state in memory and rewrites one JSON document on
// every committed mutation. Writes go to a temp file first and are renamed
// into place, so a crash mid-write never leaves a partially updated record.
type fileStore struct {
	log  logx.Logger
	path string

	locks *guildLocks

	// mu guards guilds/subs map structure and the write of the document.
	// Per-guild content mutation is additionally serialized by locks.
	mu     sync.Mutex
	guilds map[platform.GuildID]*GuildState
	subs   Subscriptions
}

type fileDocument struct {
	Guilds        map[platform.GuildID]*GuildState `json:"guilds"`
	Subscriptions map[platform.UserID][]string     `json:"subscriptions,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("statestore.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:    log,
		path:   path,
		locks:  newGuildLocks(),
		guilds: map[platform.GuildID]*GuildState{},
		subs:   Subscriptions{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // fresh state
		}
		return fmt.Errorf("%w: %v", platform.ErrPersistence, err)
	}
	var doc fileDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%w: decode %s: %v", platform.ErrPersistence, s.path, err)
	}
	if doc.Guilds != nil {
		s.guilds = doc.Guilds
	}
	for uid, kinds := range doc.Subscriptions {
		set := make(map[string]bool, len(kinds))
		for _, k := range kinds {
			set[k] = true
		}
		s.subs[uid] = set
	}
	return nil
}

// flushLocked writes the full document via tmp+rename. Caller holds s.mu.
func (s *fileStore) flushLocked() error {
	doc := fileDocument{
		Guilds:        s.guilds,
		Subscriptions: map[platform.UserID][]string{},
	}
	for uid, kinds := range s.subs {
		if len(kinds) == 0 {
			continue
		}
		out := make([]string, 0, len(kinds))
		for k, on := range kinds {
			if on {
				out = append(out, k)
			}
		}
		if len(out) > 0 {
			doc.Subscriptions[uid] = out
		}
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", platform.ErrPersistence, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", platform.ErrPersistence, tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: rename: %v", platform.ErrPersistence, err)
	}
	return nil
}

func (s *fileStore) Guild(id platform.GuildID) (GuildState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[id]
	if !ok {
		return GuildState{}, nil
	}
	return g.Clone(), nil
}

func (s *fileStore) UpdateGuild(id platform.GuildID, fn func(*GuildState) error) error {
	lock := s.locks.get(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	cur, ok := s.guilds[id]
	var work GuildState
	if ok {
		work = cur.Clone()
	}
	s.mu.Unlock()

	if err := fn(&work); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.guilds[id] = &work
	return s.flushLocked()
}

func (s *fileStore) Guilds() ([]platform.GuildID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]platform.GuildID, 0, len(s.guilds))
	for id := range s.guilds {
		out = append(out, id)
	}
	return out, nil
}

func (s *fileStore) Subscriptions() (Subscriptions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs.Clone(), nil
}

func (s *fileStore) UpdateSubscriptions(fn func(Subscriptions) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.subs.Clone()
	if err := fn(work); err != nil {
		return err
	}
	s.subs = work
	return s.flushLocked()
}

func (s *fileStore) Close() error { return nil }
