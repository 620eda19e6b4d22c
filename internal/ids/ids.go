// Package ids generates the random identifiers used for players, hands,
// sessions and reconnect tokens.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh random identifier: a UUIDv4 with the dashes
// stripped, compact enough to embed in Redis keys and wire payloads.
func New() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
