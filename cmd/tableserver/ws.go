package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/swarm-blackjack/table-server/internal/config"
	"github.com/swarm-blackjack/table-server/internal/eventstream"
	"github.com/swarm-blackjack/table-server/internal/ledger"
	"github.com/swarm-blackjack/table-server/internal/personalize"
	"github.com/swarm-blackjack/table-server/internal/protocol"
	"github.com/swarm-blackjack/table-server/internal/round"
	"github.com/swarm-blackjack/table-server/internal/store"
	"github.com/swarm-blackjack/table-server/internal/table"
	"github.com/swarm-blackjack/table-server/internal/wsconn"
)

// upgrader allows any origin: the table server sits behind the
// gateway, which is the actual trust boundary for browser clients.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type server struct {
	cfg    config.Config
	log    zerolog.Logger
	store  *store.Store
	stream *eventstream.Stream
	hub    *wsconn.Hub
	round  *round.Engine
	table  *table.Engine
	pers   *personalize.Personalizer
	ledger *ledger.Ledger
	http   *http.Server
}

func newServer(cfg config.Config, log zerolog.Logger, s *store.Store, stream *eventstream.Stream, hub *wsconn.Hub, r *round.Engine, t *table.Engine, led *ledger.Ledger) *http.Server {
	srv := &server{
		cfg: cfg, log: log, store: s, stream: stream, hub: hub,
		round: r, table: t, pers: personalize.New(s), ledger: led,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/ws/blackjack", srv.handleWS)
	mux.HandleFunc("/strategy/blackjack", srv.handleStrategy)
	mux.HandleFunc("/tables/", srv.handleTableHistory)

	srv.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return srv.http
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleTableHistory serves GET /tables/{id}/history, a read-only view
// over the Postgres audit ledger supplementing the ephemeral Redis
// round state.
func (s *server) handleTableHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/tables/")
	tid, suffix, ok := strings.Cut(path, "/")
	if !ok || suffix != "history" || tid == "" {
		http.NotFound(w, r)
		return
	}
	if s.ledger == nil {
		http.Error(w, "round audit trail disabled", http.StatusServiceUnavailable)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	entries, err := s.ledger.History(r.Context(), tid, limit)
	if err != nil {
		s.log.Error().Err(err).Str("table_id", tid).Msg("ledger history failed")
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"table_id": tid, "entries": entries})
}

// session is the per-connection mutable state a WS handler closes
// over: the identity established by HELLO and the table bound by
// JOIN_TABLE. wsconn.Conn keeps only the table/seat/player binding it
// needs for fan-out; it knows nothing about nicknames or reconnect
// tokens.
type session struct {
	conn           *wsconn.Conn
	playerID       string
	nickname       string
	reconnectToken string
	tableID        string
	seat           int
	joined         bool
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := s.hub.Register(ws)
	sess := &session{conn: c}

	defer func() {
		if sess.tableID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.table.Disconnect(ctx, sess.tableID, sess.playerID); err != nil {
				s.log.Warn().Err(err).Msg("mark disconnected failed")
			}
			cancel()
		}
		s.hub.Unregister(c)
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug().Err(err).Msg("ws read error")
			}
			return
		}
		s.dispatch(context.Background(), sess, raw)
	}
}

func (s *server) dispatch(ctx context.Context, sess *session, raw []byte) {
	msg, err := protocol.Parse(raw)
	if err != nil {
		code := protocol.ErrBadRequest
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			code = protocol.ErrBadJSON
		}
		s.hub.SendTo(sess.conn, protocol.NewError(code, err.Error()))
		return
	}

	if _, ok := msg.(protocol.HelloMsg); !ok && sess.playerID == "" {
		s.hub.SendTo(sess.conn, protocol.NewError(protocol.ErrHelloReq, "send HELLO first"))
		return
	}
	switch msg.(type) {
	case protocol.HelloMsg, protocol.JoinTableMsg:
	default:
		if !sess.joined {
			s.hub.SendTo(sess.conn, protocol.NewError(protocol.ErrJoinReq, "send JOIN_TABLE first"))
			return
		}
	}

	switch m := msg.(type) {
	case protocol.HelloMsg:
		s.handleHello(ctx, sess, m)
	case protocol.JoinTableMsg:
		s.handleJoin(ctx, sess, m)
	case protocol.ReadyToggleMsg:
		s.handleTableOp(ctx, sess, func() (table.Result, error) {
			return s.table.ReadyToggle(ctx, sess.tableID, sess.playerID)
		})
	case protocol.StartSessionMsg:
		s.handleTableOp(ctx, sess, func() (table.Result, error) {
			return s.table.StartSession(ctx, sess.tableID, sess.playerID)
		})
	case protocol.AdminConfigMsg:
		s.handleTableOp(ctx, sess, func() (table.Result, error) {
			return s.table.AdminConfig(ctx, sess.tableID, sess.playerID, adminUpdates(m))
		})
	case protocol.PlaceBetMsg:
		s.handleRoundOp(ctx, sess, func() (round.Result, error) {
			return s.round.PlaceBet(ctx, sess.tableID, sess.playerID, m.Amount, m.RequestID)
		})
	case protocol.ActionMsg:
		s.handleRoundOp(ctx, sess, func() (round.Result, error) {
			return s.round.Action(ctx, sess.tableID, sess.playerID, m.Action, m.RequestID)
		})
	case protocol.VoteContinueMsg:
		s.handleRoundOp(ctx, sess, func() (round.Result, error) {
			return s.round.CastVote(ctx, sess.tableID, sess.playerID, m.Vote, m.RequestID)
		})
	case protocol.SyncMsg:
		s.handleSync(ctx, sess, m)
	}
}

func adminUpdates(m protocol.AdminConfigMsg) map[string]any {
	updates := map[string]any{}
	if m.StartingBankroll != nil {
		updates["starting_bankroll"] = *m.StartingBankroll
	}
	if m.MinBet != nil {
		updates["min_bet"] = *m.MinBet
	}
	if m.MaxBet != nil {
		updates["max_bet"] = *m.MaxBet
	}
	if m.ShoeDecks != nil {
		updates["shoe_decks"] = *m.ShoeDecks
	}
	if m.ReshuffleWhenRemainingPct != nil {
		updates["reshuffle_when_remaining_pct"] = *m.ReshuffleWhenRemainingPct
	}
	return updates
}

func (s *server) handleHello(ctx context.Context, sess *session, m protocol.HelloMsg) {
	identity, err := s.table.Hello(ctx, m.Nickname, m.ReconnectToken)
	if err != nil {
		s.hub.SendTo(sess.conn, protocol.NewError(protocol.ErrBadRequest, err.Error()))
		return
	}
	sess.playerID = identity.PlayerID
	sess.nickname = m.Nickname
	sess.reconnectToken = identity.ReconnectToken
	s.hub.SendTo(sess.conn, protocol.Welcome{
		Type: protocol.TypeWelcome, PlayerID: identity.PlayerID, ReconnectToken: identity.ReconnectToken,
	})
}

func (s *server) handleJoin(ctx context.Context, sess *session, m protocol.JoinTableMsg) {
	res, err := s.table.Join(ctx, m.TableID, sess.playerID, sess.nickname, sess.reconnectToken)
	if err != nil {
		s.sendOpError(sess, protocol.ErrJoinDenied, err)
		return
	}
	seat := 0
	if p, ok := res.Snapshot.Players[sess.playerID]; ok {
		seat = int(store.MetaInt(p, "seat", 0))
	}
	sess.tableID, sess.seat, sess.joined = m.TableID, seat, true
	s.hub.JoinTable(sess.conn, m.TableID, sess.playerID, seat)
	s.flushTable(ctx, m.TableID, res.Events)
	s.sendSnapshot(ctx, sess)
}

func (s *server) handleTableOp(ctx context.Context, sess *session, fn func() (table.Result, error)) {
	res, err := fn()
	if err != nil {
		s.sendOpError(sess, protocol.ErrAdminDenied, err)
		return
	}
	s.flushTable(ctx, sess.tableID, res.Events)
	s.sendSnapshot(ctx, sess)
}

func (s *server) handleRoundOp(ctx context.Context, sess *session, fn func() (round.Result, error)) {
	res, err := fn()
	if err != nil {
		s.sendOpError(sess, protocol.ErrActionDenied, err)
		return
	}
	s.flushTable(ctx, sess.tableID, res.Events)
	s.sendSnapshot(ctx, sess)
}

func (s *server) sendOpError(sess *session, fallbackCode string, err error) {
	code, msg := fallbackCode, err.Error()
	if oe, ok := err.(*round.OpError); ok {
		code, msg = oe.Code, oe.Message
	} else if oe, ok := err.(*table.OpError); ok {
		code, msg = oe.Code, oe.Message
	}
	s.hub.SendTo(sess.conn, protocol.NewError(code, msg))
}

func (s *server) flushTable(ctx context.Context, tid string, events []protocol.BufferedEvent) {
	if len(events) == 0 {
		return
	}
	meta, err := s.store.GetMeta(ctx, tid)
	if err != nil {
		s.log.Error().Err(err).Str("table_id", tid).Msg("flush: get meta failed")
		return
	}
	sessionID := meta["session_id"]
	roundID := int(store.MetaInt(meta, "round_id", 0))
	if err := s.hub.Flush(ctx, s.stream, tid, sessionID, roundID, events); err != nil {
		s.log.Error().Err(err).Str("table_id", tid).Msg("flush failed")
	}
}

func (s *server) sendSnapshot(ctx context.Context, sess *session) {
	snap, err := s.store.GetSnapshot(ctx, sess.tableID)
	if err != nil {
		s.log.Error().Err(err).Str("table_id", sess.tableID).Msg("get snapshot failed")
		return
	}
	view, err := s.pers.Snapshot(ctx, sess.tableID, snap, sess.seat)
	if err != nil {
		s.log.Error().Err(err).Str("table_id", sess.tableID).Msg("personalize snapshot failed")
		return
	}
	if !s.cfg.ShowDealerRule {
		view.DealerSoft17Rule = ""
	}
	s.hub.SendTo(sess.conn, wireSnapshot{Type: protocol.TypeSnapshot, View: view})
}

type wireSnapshot struct {
	Type string                   `json:"type"`
	View personalize.SnapshotView `json:"snapshot"`
}

func (s *server) handleSync(ctx context.Context, sess *session, m protocol.SyncMsg) {
	events, err := s.stream.Read(ctx, sess.tableID, m.LastEventID, 0)
	if err != nil {
		s.log.Error().Err(err).Str("table_id", sess.tableID).Msg("sync read failed")
		return
	}
	for _, ev := range events {
		var payload map[string]any
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				continue
			}
		}
		rePersonalized, ok := s.pers.ReplayForSeat(ctx, sess.tableID, ev, sess.seat, payload)
		if !ok {
			continue
		}
		s.hub.SendTo(sess.conn, protocol.Event{
			EventID: ev.ID, Type: ev.Type, SessionID: ev.SessionID, RoundID: ev.RoundID, Payload: rePersonalized,
		})
	}
	s.sendSnapshot(ctx, sess)
}
