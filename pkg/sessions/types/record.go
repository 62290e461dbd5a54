package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	fieldSessionID = "sessionId"
	fieldPlayers   = "players"
)

// PlayerEntry is a single member of a session roster.
type PlayerEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsReady     bool   `json:"isReady"`
}

// SessionRecord is the remote state of a game session.
// Fields other than the session id and the roster are kept as raw JSON so
// that roster mutations never rewrite game state they do not understand.
type SessionRecord struct {
	SessionID string
	Players   []PlayerEntry
	Extra     map[string]json.RawMessage
}

func (r SessionRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+2)
	for k, v := range r.Extra {
		out[k] = v
	}
	id, err := json.Marshal(r.SessionID)
	if err != nil {
		return nil, err
	}
	out[fieldSessionID] = id

	players := r.Players
	if players == nil {
		players = []PlayerEntry{}
	}
	p, err := json.Marshal(players)
	if err != nil {
		return nil, err
	}
	out[fieldPlayers] = p

	return json.Marshal(out)
}

func (r *SessionRecord) UnmarshalJSON(b []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	record := SessionRecord{}
	if raw, ok := fields[fieldSessionID]; ok {
		if err := json.Unmarshal(raw, &record.SessionID); err != nil {
			return fmt.Errorf("invalid %s: %w", fieldSessionID, err)
		}
		delete(fields, fieldSessionID)
	}
	if raw, ok := fields[fieldPlayers]; ok {
		players, err := decodePlayers(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", fieldPlayers, err)
		}
		record.Players = players
		delete(fields, fieldPlayers)
	}
	if len(fields) > 0 {
		record.Extra = fields
	}

	*r = record
	return nil
}

// decodePlayers accepts both a JSON array and the keyed object form that
// realtime databases produce for sparse arrays.
func decodePlayers(raw json.RawMessage) ([]PlayerEntry, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var list []PlayerEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	keyed := map[string]PlayerEntry{}
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	// Numeric keys sort by length first so "10" follows "9".
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
	list = make([]PlayerEntry, 0, len(keyed))
	for _, k := range keys {
		list = append(list, keyed[k])
	}
	return list, nil
}

// FindPlayer returns the index of the player with the given id or -1.
func (r *SessionRecord) FindPlayer(playerID string) int {
	for i, p := range r.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// UpsertPlayer replaces the entry with the same id in place or appends it.
// Any duplicate entries for the id are dropped.
func (r *SessionRecord) UpsertPlayer(player PlayerEntry) {
	players := make([]PlayerEntry, 0, len(r.Players)+1)
	replaced := false
	for _, p := range r.Players {
		if p.ID != player.ID {
			players = append(players, p)
			continue
		}
		if !replaced {
			players = append(players, player)
			replaced = true
		}
	}
	if !replaced {
		players = append(players, player)
	}
	r.Players = players
}

// RemovePlayer drops every entry with the given id and reports whether
// anything was removed.
func (r *SessionRecord) RemovePlayer(playerID string) bool {
	players := make([]PlayerEntry, 0, len(r.Players))
	for _, p := range r.Players {
		if p.ID != playerID {
			players = append(players, p)
		}
	}
	removed := len(players) != len(r.Players)
	r.Players = players
	return removed
}
