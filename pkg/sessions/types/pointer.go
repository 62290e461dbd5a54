package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPointer is returned when a stored pointer cannot be used.
var ErrMalformedPointer = errors.New("malformed session pointer")

// MaxClockSkew is how far in the future a pointer timestamp may lie.
const MaxClockSkew = time.Minute

// LocalSessionPointer remembers the session the local user last took part in.
type LocalSessionPointer struct {
	SessionData json.RawMessage `json:"sessionData"`
	IsHost      bool            `json:"isHost"`
	Timestamp   int64           `json:"timestamp"`
}

// NewLocalSessionPointer snapshots a record into a pointer created at now.
func NewLocalSessionPointer(record SessionRecord, isHost bool, now time.Time) (*LocalSessionPointer, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session data: %w", err)
	}
	return &LocalSessionPointer{
		SessionData: data,
		IsHost:      isHost,
		Timestamp:   now.UnixMilli(),
	}, nil
}

// Age is the time elapsed since the pointer was written.
func (p *LocalSessionPointer) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(p.Timestamp))
}

// CheckTimestamp rejects pointers written more than MaxClockSkew after now.
func (p *LocalSessionPointer) CheckTimestamp(now time.Time) error {
	if age := p.Age(now); age < -MaxClockSkew {
		return fmt.Errorf("%w: timestamp is %s in the future", ErrMalformedPointer, (-age).Round(time.Second))
	}
	return nil
}

// SessionID extracts the session id from the snapshot. The snapshot may be a
// JSON object or a JSON string that itself holds serialized JSON.
func (p *LocalSessionPointer) SessionID() (string, error) {
	data := []byte(p.SessionData)
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty session data", ErrMalformedPointer)
	}

	var nested string
	if err := json.Unmarshal(data, &nested); err == nil {
		data = []byte(nested)
	}

	var snapshot struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPointer, err)
	}
	if strings.TrimSpace(snapshot.SessionID) == "" {
		return "", fmt.Errorf("%w: missing sessionId", ErrMalformedPointer)
	}
	return snapshot.SessionID, nil
}

// ParseLocalSessionPointer decodes a stored pointer and validates it.
func ParseLocalSessionPointer(raw string) (*LocalSessionPointer, error) {
	pointer := &LocalSessionPointer{}
	if err := json.Unmarshal([]byte(raw), pointer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPointer, err)
	}
	if pointer.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedPointer)
	}
	if _, err := pointer.SessionID(); err != nil {
		return nil, err
	}
	return pointer, nil
}
