package protocol

// Server-emitted event type tags, appended to the per-table stream and
// broadcast to connected clients. Payload shapes are documented next to
// the emitting call site in internal/round and internal/table.
const (
	EventSessionStarted    = "SESSION_STARTED"
	EventSessionEnded      = "SESSION_ENDED"
	EventRoundStarted      = "ROUND_STARTED"
	EventPhaseChanged      = "PHASE_CHANGED"
	EventPlayerJoined      = "PLAYER_JOINED"
	EventReadyChanged      = "READY_CHANGED"
	EventBetPlaced         = "BET_PLACED"
	EventBetDoubled        = "BET_DOUBLED"
	EventDealStarted       = "DEAL_STARTED"
	EventCardDealt         = "CARD_DEALT"
	EventTurnStarted       = "TURN_STARTED"
	EventPlayerAction      = "PLAYER_ACTION"
	EventPlayerBust        = "PLAYER_BUST"
	EventDealerRevealHole  = "DEALER_REVEAL_HOLE"
	EventDealerAction      = "DEALER_ACTION"
	EventChipsCollect      = "CHIPS_COLLECT"
	EventHandsRevealed     = "HANDS_REVEALED"
	EventPayout            = "PAYOUT"
	EventVoteStarted       = "VOTE_STARTED"
	EventVoteCast          = "VOTE_CAST"
	EventVoteResult        = "VOTE_RESULT"
	EventAnnouncement      = "ANNOUNCEMENT"
	EventAdminConfigUpdate = "ADMIN_CONFIG_UPDATED"
)

// Buffer collects (type, payload) pairs emitted during a single locked
// operation. It is flushed to the event stream and broadcast only after
// the table lock is released; nothing holds the lock across a network
// send.
type Buffer struct {
	events []BufferedEvent
}

// BufferedEvent is one queued emission.
type BufferedEvent struct {
	Type    string
	Payload map[string]any
}

// Emit queues an event for later flush.
func (b *Buffer) Emit(eventType string, payload map[string]any) {
	b.events = append(b.events, BufferedEvent{Type: eventType, Payload: payload})
}

// Events returns the queued events in emission order.
func (b *Buffer) Events() []BufferedEvent {
	return b.events
}
