// Package textresponse maps configured trigger phrases to canned replies.
// Matching is a case-insensitive exact match on the whole message.
package textresponse

import (
	"fmt"
	"sort"
	"strings"

	"guildbot/internal/platform"
	"guildbot/internal/statestore"
)

// maxTriggers bounds the per-guild trigger map.
const maxTriggers = 100

type Service struct {
	store statestore.Store
}

func New(store statestore.Store) *Service {
	return &Service{store: store}
}

// Set adds or replaces a trigger. An empty response removes the trigger.
func (s *Service) Set(guild platform.GuildID, trigger, response string) error {
	trigger = strings.ToLower(strings.TrimSpace(trigger))
	if trigger == "" {
		return fmt.Errorf("%w: trigger is required", platform.ErrInvalidInput)
	}
	response = strings.TrimSpace(response)
	return s.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		if response == "" {
			delete(g.Triggers, trigger)
			return nil
		}
		if g.Triggers == nil {
			g.Triggers = map[string]string{}
		}
		if _, ok := g.Triggers[trigger]; !ok && len(g.Triggers) >= maxTriggers {
			return fmt.Errorf("%w: trigger limit reached (%d)", platform.ErrInvalidInput, maxTriggers)
		}
		g.Triggers[trigger] = response
		return nil
	})
}

// List returns triggers sorted alphabetically with their responses.
func (s *Service) List(guild platform.GuildID) ([][2]string, error) {
	g, err := s.store.Guild(guild)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(g.Triggers))
	for k := range g.Triggers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, g.Triggers[k]})
	}
	return out, nil
}

// Lookup returns the response for a message, if its content matches a
// trigger exactly (case-insensitive).
func (s *Service) Lookup(guild platform.GuildID, content string) (string, bool) {
	g, err := s.store.Guild(guild)
	if err != nil {
		return "", false
	}
	resp, ok := g.Triggers[strings.ToLower(strings.TrimSpace(content))]
	return resp, ok
}
