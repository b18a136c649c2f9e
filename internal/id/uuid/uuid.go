// Package uuid generates session IDs as UUIDv7 so a session's creation time can be read
// back from its ID.
package uuid

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the timestamp embedded in new IDs.
type Clock interface {
	Now() time.Time
}

// Generator creates UUIDv7 strings.
type Generator struct {
	clock Clock
}

// New creates a Generator stamped with the wall clock.
func New() *Generator {
	return &Generator{}
}

// NewWithClock creates a Generator whose IDs carry clock.Now() as their timestamp.
func NewWithClock(clock Clock) *Generator {
	return &Generator{clock: clock}
}

// NewID returns a UUIDv7 string.
func (g *Generator) NewID() (string, error) {
	if g == nil || g.clock == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate uuid7: %w", err)
		}
		return id.String(), nil
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	stampV7(&id, g.clock.Now())
	return id.String(), nil
}

// Timestamp extracts the creation time from a UUIDv7 string.
// It reports false for anything that is not a version 7 UUID.
func Timestamp(id string) (time.Time, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.Version() != 7 {
		return time.Time{}, false
	}
	var buf [8]byte
	copy(buf[2:], parsed[:6])
	ms := int64(binary.BigEndian.Uint64(buf[:]))
	return time.UnixMilli(ms).UTC(), true
}

// stampV7 overwrites the timestamp, version and variant bits of a random UUID.
func stampV7(id *uuid.UUID, t time.Time) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UnixMilli()))
	copy(id[:6], buf[2:])
	id[6] = (id[6] & 0x0f) | 0x70
	id[8] = (id[8] & 0x3f) | 0x80
}
