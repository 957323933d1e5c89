package statestore

import (
	"sync"

	"guildbot/internal/platform"
)

// memoryStore backs tests and dry runs; same locking discipline as the file
// driver, no durability.
type memoryStore struct {
	locks *guildLocks

	mu     sync.Mutex
	guilds map[platform.GuildID]*GuildState
	subs   Subscriptions
}

// NewMemory returns a volatile Store.
func NewMemory() Store {
	return &memoryStore{
		locks:  newGuildLocks(),
		guilds: map[platform.GuildID]*GuildState{},
		subs:   Subscriptions{},
	}
}

func (s *memoryStore) Guild(id platform.GuildID) (GuildState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guilds[id]
	if !ok {
		return GuildState{}, nil
	}
	return g.Clone(), nil
}

func (s *memoryStore) UpdateGuild(id platform.GuildID, fn func(*GuildState) error) error {
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
	s.guilds[id] = &work
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Guilds() ([]platform.GuildID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]platform.GuildID, 0, len(s.guilds))
	for id := range s.guilds {
		out = append(out, id)
	}
	return out, nil
}

func (s *memoryStore) Subscriptions() (Subscriptions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs.Clone(), nil
}

func (s *memoryStore) UpdateSubscriptions(fn func(Subscriptions) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.subs.Clone()
	if err := fn(work); err != nil {
		return err
	}
	s.subs = work
	return nil
}

func (s *memoryStore) Close() error { return nil }
