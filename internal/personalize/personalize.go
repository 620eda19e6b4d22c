// Package personalize is the redaction layer: it turns the single
// authoritative table snapshot and event stream into the per-recipient
// view every connected seat is allowed to see. Own cards visible,
// other seats' cards hidden, the dealer hole card gated by phase, and
// private announcements targeted to a single seat.
package personalize

import (
	"context"
	"strconv"

	"github.com/swarm-blackjack/table-server/internal/eventstream"
	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/store"
)

// Personalizer redacts snapshots and events against the store's hand
// records, since a snapshot alone does not carry card data.
type Personalizer struct {
	store *store.Store
}

func New(s *store.Store) *Personalizer {
	return &Personalizer{store: s}
}

// PlayerView is one seat's entry in a personalized SNAPSHOT message.
// Cards holds card codes for visible hands and literal nulls for hands
// the recipient is not allowed to see.
type PlayerView struct {
	PlayerID     string    `json:"player_id"`
	Seat         int       `json:"seat"`
	Name         string    `json:"name"`
	Bankroll     int64     `json:"bankroll"`
	Status       string    `json:"status"`
	Bet          int64     `json:"bet"`
	BetSubmitted bool      `json:"bet_submitted"`
	Cards        []*string `json:"cards"`
	HandCount    int       `json:"hand_count"`
}

// SnapshotView is the full personalized SNAPSHOT payload for one seat.
type SnapshotView struct {
	Phase            string               `json:"phase"`
	SessionID        string               `json:"session_id"`
	RoundID          int64                `json:"round_id"`
	TurnSeat         int64                `json:"turn_seat"`
	DealerSoft17Rule string               `json:"dealer_soft_17_rule,omitempty"`
	DealerRevealed   bool                 `json:"dealer_revealed"`
	DealerHand       store.DealerHandView `json:"dealer_hand"`
	Players          []PlayerView         `json:"players"`
	YourSeat         int                  `json:"your_seat"`
}

// Snapshot builds the personalized view of the table for forSeat (0
// for an unseated spectator, who owns no hand and so sees player cards
// only once settlement reveals them).
func (p *Personalizer) Snapshot(ctx context.Context, tid string, snap store.Snapshot, forSeat int) (SnapshotView, error) {
	phase := snap.Meta["phase"]

	view := SnapshotView{
		Phase:            phase,
		SessionID:        snap.Meta["session_id"],
		RoundID:          store.MetaInt(snap.Meta, "round_id", 0),
		TurnSeat:         store.MetaInt(snap.Meta, "turn_seat", 0),
		DealerSoft17Rule: snap.Meta["dealer_soft_17_rule"],
		DealerRevealed:   snap.Meta["dealer_revealed"] == "1",
		DealerHand:       snap.DealerHand,
		YourSeat:         forSeat,
	}

	for pid, pdata := range snap.Players {
		seat := int(store.MetaInt(pdata, "seat", 0))
		handIDs, err := p.store.GetPlayerHandIDs(ctx, tid, pid)
		if err != nil {
			return SnapshotView{}, err
		}
		var cards []string
		if len(handIDs) > 0 {
			cards, err = p.store.LoadHandCards(ctx, tid, handIDs[0])
			if err != nil {
				return SnapshotView{}, err
			}
		}
		redacted := redactHand(phase, cards, seat == forSeat)
		handCount := len(cards)
		if phase == "DEAL_INITIAL" {
			handCount = 0
		}

		view.Players = append(view.Players, PlayerView{
			PlayerID:     pid,
			Seat:         seat,
			Name:         pdata["name"],
			Bankroll:     store.MetaInt(pdata, "bankroll", 0),
			Status:       defaultStatus(pdata["status"]),
			Bet:          store.MetaInt(pdata, "bet", 0),
			BetSubmitted: pdata["bet_submitted"] == "1",
			Cards:        redacted,
			HandCount:    handCount,
		})
	}
	return view, nil
}

func defaultStatus(s string) string {
	if s == "" {
		return "active"
	}
	return s
}

// redactHand applies the per-phase, per-seat visibility rule to one
// player's hand: hidden entirely during the deal animation, own cards
// only mid-round, everything once settlement reveals the table.
func redactHand(phase string, cards []string, isOwner bool) []*string {
	switch phase {
	case "DEAL_INITIAL":
		return []*string{}
	case "PLAYER_TURNS", "DEALER_TURN":
		if isOwner {
			return visibleCards(cards)
		}
		return make([]*string, len(cards))
	case "SETTLE", "VOTE_CONTINUE", "SESSION_ENDED":
		return visibleCards(cards)
	default:
		return []*string{}
	}
}

func visibleCards(cards []string) []*string {
	out := make([]*string, len(cards))
	for i := range cards {
		out[i] = &cards[i]
	}
	return out
}

// LiveEvent is what PersonalizeEvent returns: the payload to send to
// one connection, or Skip=true if this event must not reach that seat
// at all (a private announcement addressed elsewhere).
type LiveEvent struct {
	Payload map[string]any
	Skip    bool
}

// ForLiveSeat personalizes one just-emitted (pre-redaction) event for
// a specific connection. CARD_DEALT "to":"player" events carry the
// real card only when forSeat owns that card; every other seat (and
// the stream's persisted copy, via ForStream) sees card=null,
// face_down=true. ANNOUNCEMENT events with target_seat are delivered
// only to that seat, with the field stripped either way.
func ForLiveSeat(ev protocol.BufferedEvent, forSeat int) LiveEvent {
	switch ev.Type {
	case protocol.EventCardDealt:
		return LiveEvent{Payload: cardDealtForSeat(ev.Payload, forSeat)}
	case protocol.EventAnnouncement:
		return announcementForSeat(ev.Payload, forSeat)
	default:
		return LiveEvent{Payload: ev.Payload}
	}
}

func cardDealtForSeat(payload map[string]any, forSeat int) map[string]any {
	if payload["to"] != "player" {
		return payload
	}
	seat, _ := payload["seat"].(int)
	if seat == forSeat {
		return payload
	}
	out := cloneMap(payload)
	out["card"] = nil
	out["face_down"] = true
	return out
}

func announcementForSeat(payload map[string]any, forSeat int) LiveEvent {
	target, hasTarget := payload["target_seat"]
	if !hasTarget {
		return LiveEvent{Payload: payload}
	}
	targetSeat, _ := target.(int)
	out := cloneMap(payload)
	delete(out, "target_seat")
	if targetSeat != forSeat {
		return LiveEvent{Skip: true}
	}
	return LiveEvent{Payload: out}
}

// ForStream returns the payload persisted to the durable event stream:
// CARD_DEALT "to":"player" entries are redacted before they are ever
// written, so replaying the stream can never leak a card to the wrong
// seat even before any live personalization runs.
func ForStream(ev protocol.BufferedEvent) map[string]any {
	if ev.Type == protocol.EventCardDealt && ev.Payload["to"] == "player" {
		out := cloneMap(ev.Payload)
		out["card"] = nil
		out["face_down"] = true
		return out
	}
	return ev.Payload
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ReplayForSeat re-personalizes an already-redacted event read back
// from the durable stream for a SYNC request: a CARD_DEALT owned by
// forSeat is resolved from the persisted hand by (hand_id, card_index);
// if that lookup fails, the event stays face-down rather than risk
// leaking a blank in its place.
func (p *Personalizer) ReplayForSeat(ctx context.Context, tid string, ev eventstream.Event, forSeat int, payload map[string]any) (map[string]any, bool) {
	if ev.Type != protocol.EventCardDealt || payload["to"] != "player" {
		if ev.Type == protocol.EventAnnouncement {
			return announcementPayloadForReplay(payload, forSeat)
		}
		return payload, true
	}
	seat, _ := payload["seat"].(float64)
	if int(seat) != forSeat {
		return payload, true
	}
	handID, _ := payload["hand_id"].(string)
	idxRaw, hasIdx := payload["card_index"]
	if handID == "" || !hasIdx {
		return payload, true
	}
	idx := asInt(idxRaw)
	cards, err := p.store.LoadHandCards(ctx, tid, handID)
	if err != nil || idx < 0 || idx >= len(cards) {
		return payload, true
	}
	out := cloneMap(payload)
	out["card"] = cards[idx]
	out["face_down"] = false
	return out, true
}

func announcementPayloadForReplay(payload map[string]any, forSeat int) (map[string]any, bool) {
	target, hasTarget := payload["target_seat"]
	if !hasTarget {
		return payload, true
	}
	targetSeat := asInt(target)
	out := cloneMap(payload)
	delete(out, "target_seat")
	if targetSeat != forSeat {
		return nil, false
	}
	return out, true
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}
