// Package eventstream persists the durable, monotonic per-table event
// log on a Redis stream, so a reconnecting client can replay exactly
// what it missed by last-seen event id.
package eventstream

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// MaxLen bounds the stream's approximate retained length.
const MaxLen = 2000

// SyncTail is how many trailing events a client with no last-seen id
// receives on initial sync.
const SyncTail = 200

// Event is a single entry read back off the stream.
type Event struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	RoundID   int             `json:"round_id"`
	Payload   json.RawMessage `json:"payload"`
}

type Stream struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Stream {
	return &Stream{rdb: rdb}
}

func key(tid string) string { return "bj:table:" + tid + ":events" }

// Append adds one event to the table's stream, trimming approximately
// to MaxLen, and returns the assigned stream id.
func (s *Stream) Append(ctx context.Context, tid, eventType, sessionID string, roundID int, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key(tid),
		MaxLen: MaxLen,
		Approx: true,
		Values: map[string]any{
			"event_type": eventType,
			"session_id": sessionID,
			"round_id":   strconv.Itoa(roundID),
			"payload":    string(b),
		},
	}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

// Read replays events strictly after lastEventID, or the trailing
// SyncTail events (oldest first) if lastEventID is empty. count bounds
// the page size per round trip, not the total replayed.
func (s *Stream) Read(ctx context.Context, tid, lastEventID string, count int) ([]Event, error) {
	if count <= 0 || count > SyncTail {
		count = SyncTail
	}
	if lastEventID == "" {
		msgs, err := s.rdb.XRevRangeN(ctx, key(tid), "+", "-", int64(count)).Result()
		if err != nil {
			return nil, err
		}
		events := make([]Event, 0, len(msgs))
		for _, m := range msgs {
			events = append(events, decode(m))
		}
		reverse(events)
		return events, nil
	}

	var out []Event
	start := "(" + lastEventID
	for {
		msgs, err := s.rdb.XRangeN(ctx, key(tid), start, "+", int64(count)).Result()
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			out = append(out, decode(m))
		}
		start = "(" + msgs[len(msgs)-1].ID
	}
	return out, nil
}

func decode(m redis.XMessage) Event {
	payloadRaw, _ := m.Values["payload"].(string)
	if payloadRaw == "" {
		payloadRaw = "{}"
	}
	roundID, _ := strconv.Atoi(asString(m.Values["round_id"]))
	return Event{
		ID:        m.ID,
		Type:      asString(m.Values["event_type"]),
		SessionID: asString(m.Values["session_id"]),
		RoundID:   roundID,
		Payload:   json.RawMessage(payloadRaw),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func reverse(events []Event) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}
