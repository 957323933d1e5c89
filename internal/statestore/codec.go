package statestore

import (
	"encoding/json"
	"fmt"

	"guildbot/internal/platform"
)

func encodeGuildState(g *GuildState) (string, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("%w: encode guild state: %v", platform.ErrPersistence, err)
	}
	return string(b), nil
}

func decodeGuildState(raw string, out *GuildState) error {
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: decode guild state: %v", platform.ErrPersistence, err)
	}
	return nil
}
