package personalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/swarm-blackjack/table-server/internal/protocol"
)

func cardStrings(out []*string) []any {
	vals := make([]any, len(out))
	for i, c := range out {
		if c != nil {
			vals[i] = *c
		}
	}
	return vals
}

func TestRedactHandDealInitialHidesEverything(t *testing.T) {
	out := redactHand("DEAL_INITIAL", []string{"AS", "KH"}, true)
	assert.Empty(t, out)
}

func TestRedactHandPlayerTurnsOwnerSeesCards(t *testing.T) {
	out := redactHand("PLAYER_TURNS", []string{"AS", "KH"}, true)
	assert.Equal(t, []any{"AS", "KH"}, cardStrings(out))
}

func TestRedactHandPlayerTurnsOtherSeesNullPlaceholders(t *testing.T) {
	out := redactHand("PLAYER_TURNS", []string{"AS", "KH"}, false)
	assert.Len(t, out, 2)
	assert.Nil(t, out[0])
	assert.Nil(t, out[1])
}

func TestRedactHandSettleRevealsToEveryone(t *testing.T) {
	out := redactHand("SETTLE", []string{"AS", "KH"}, false)
	assert.Equal(t, []any{"AS", "KH"}, cardStrings(out))
}

func TestForLiveSeatCardDealtRedactsOtherSeats(t *testing.T) {
	ev := protocol.BufferedEvent{
		Type: protocol.EventCardDealt,
		Payload: map[string]any{
			"to": "player", "seat": 2, "card": "AS", "face_down": false,
		},
	}
	live := ForLiveSeat(ev, 1)
	assert.False(t, live.Skip)
	assert.Nil(t, live.Payload["card"])
	assert.Equal(t, true, live.Payload["face_down"])
	// original payload must not be mutated
	assert.Equal(t, "AS", ev.Payload["card"])
}

func TestForLiveSeatCardDealtRevealsOwnSeat(t *testing.T) {
	ev := protocol.BufferedEvent{
		Type: protocol.EventCardDealt,
		Payload: map[string]any{
			"to": "player", "seat": 2, "card": "AS", "face_down": false,
		},
	}
	live := ForLiveSeat(ev, 2)
	assert.False(t, live.Skip)
	assert.Equal(t, "AS", live.Payload["card"])
}

func TestForLiveSeatAnnouncementSkipsOtherTargets(t *testing.T) {
	ev := protocol.BufferedEvent{
		Type:    protocol.EventAnnouncement,
		Payload: map[string]any{"target_seat": 3, "title": "YOUR TURN"},
	}
	live := ForLiveSeat(ev, 1)
	assert.True(t, live.Skip)
}

func TestForLiveSeatAnnouncementDeliversToTarget(t *testing.T) {
	ev := protocol.BufferedEvent{
		Type:    protocol.EventAnnouncement,
		Payload: map[string]any{"target_seat": 3, "title": "YOUR TURN"},
	}
	live := ForLiveSeat(ev, 3)
	assert.False(t, live.Skip)
	_, hasTarget := live.Payload["target_seat"]
	assert.False(t, hasTarget)
	assert.Equal(t, "YOUR TURN", live.Payload["title"])
}

func TestForStreamRedactsCardDealtBeforePersisting(t *testing.T) {
	ev := protocol.BufferedEvent{
		Type:    protocol.EventCardDealt,
		Payload: map[string]any{"to": "player", "seat": 1, "card": "KH", "face_down": false},
	}
	out := ForStream(ev)
	assert.Nil(t, out["card"])
	assert.Equal(t, true, out["face_down"])
}

func TestForStreamLeavesNonCardEventsAlone(t *testing.T) {
	ev := protocol.BufferedEvent{
		Type:    protocol.EventPhaseChanged,
		Payload: map[string]any{"phase": "SETTLE"},
	}
	out := ForStream(ev)
	assert.Equal(t, "SETTLE", out["phase"])
}

func TestAsIntCoercesVariousTypes(t *testing.T) {
	assert.Equal(t, 3, asInt(3))
	assert.Equal(t, 3, asInt(int64(3)))
	assert.Equal(t, 3, asInt(float64(3)))
	assert.Equal(t, 3, asInt("3"))
	assert.Equal(t, 0, asInt("not-a-number"))
}
