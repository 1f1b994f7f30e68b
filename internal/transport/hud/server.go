// Package hud serves the village to HUD clients over HTTP and websocket.
package hud

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"villagecraft.ai/internal/economy/ledger"
	"villagecraft.ai/internal/persistence/saves"
	"villagecraft.ai/internal/protocol"
	"villagecraft.ai/internal/village"
	"villagecraft.ai/internal/village/feedback"
	"villagecraft.ai/internal/village/geom"
)

// Runner executes fn on the goroutine that owns the village.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

type Options struct {
	Village *village.Orchestrator
	Loop    Runner
	Log     zerolog.Logger
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// AllowRemote accepts websocket clients from non-loopback addresses.
	AllowRemote bool
}

type Server struct {
	village     *village.Orchestrator
	loop        Runner
	log         zerolog.Logger
	gatherer    prometheus.Gatherer
	allowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[string]*client

	detach func()
}

type client struct {
	id  string
	out chan []byte
}

// send never blocks; a full buffer means the client is not keeping up.
func (c *client) send(b []byte) bool {
	select {
	case c.out <- b:
		return true
	default:
		return false
	}
}

var validate = validator.New()

func NewServer(opts Options) *Server {
	return &Server{
		village:     opts.Village,
		loop:        opts.Loop,
		log:         opts.Log.With().Str("component", "hud").Logger(),
		gatherer:    opts.Gatherer,
		allowRemote: opts.AllowRemote,
		clients:     map[string]*client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Attach subscribes to ledger and feedback changes. It must run on the loop, and
// Detach must be called before the village is torn down.
func (s *Server) Attach() {
	obs := s.village.Ledger().Register(s.onLedger)
	unsub := s.village.Board().Subscribe(s.onFeedback)
	s.detach = func() {
		s.village.Ledger().Unregister(obs)
		unsub()
	}
}

func (s *Server) Detach() {
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		_, _ = rw.Write([]byte("ok"))
	})
	r.Get("/v1/state", s.StateHandler())
	r.Get("/v1/hud", s.WSHandler())
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) StateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var st protocol.StateMsg
		if err := s.loop.Do(r.Context(), func() { st = State(s.village) }); err != nil {
			http.Error(rw, "unavailable", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(st)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send HELLO first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var hello protocol.HelloMsg
		if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello || hello.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
			return
		}

		c := &client{id: fmt.Sprintf("H%d", s.nextID.Add(1)), out: make(chan []byte, 256)}
		log := s.log.With().Str("client_id", c.id).Str("client_name", hello.ClientName).Logger()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Snapshot and registration happen in one loop turn so no event is missed in between.
		var encErr error
		err = s.loop.Do(ctx, func() {
			b, err := json.Marshal(protocol.WelcomeMsg{
				Type:            protocol.TypeWelcome,
				ProtocolVersion: protocol.Version,
				ClientID:        c.id,
				State:           State(s.village),
				Catalog:         catalogSummary(s.village.Catalog()),
			})
			if err != nil {
				encErr = err
				return
			}
			c.send(b)
			s.mu.Lock()
			s.clients[c.id] = c
			s.mu.Unlock()
		})
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		if encErr != nil {
			log.Error().Err(encErr).Msg("encode welcome")
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "state unavailable"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			s.mu.Lock()
			delete(s.clients, c.id)
			s.mu.Unlock()
		}()
		log.Info().Msg("hud client connected")

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			b := s.encodeResult(s.dispatch(ctx, msg))
			if !c.send(b) {
				log.Warn().Msg("hud client too slow, disconnecting")
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		log.Info().Msg("hud client disconnected")
	}
}

func (s *Server) dispatch(ctx context.Context, raw []byte) protocol.ActionResultMsg {
	var cmd protocol.CommandMsg
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return rejected("", protocol.ErrProtoBadRequest, "malformed command")
	}
	if err := validate.Struct(cmd); err != nil {
		return rejected(cmd.ID, protocol.ErrProtoBadRequest, err.Error())
	}
	if cmd.ProtocolVersion != protocol.Version {
		return rejected(cmd.ID, protocol.ErrProtoBadRequest, "unsupported protocol_version")
	}
	var res protocol.ActionResultMsg
	if err := s.loop.Do(ctx, func() { res = s.apply(cmd) }); err != nil {
		return rejected(cmd.ID, protocol.ErrInternal, "village unavailable")
	}
	return res
}

// encodeResult falls back to a bare E_INTERNAL rejection when res cannot be encoded.
func (s *Server) encodeResult(res protocol.ActionResultMsg) []byte {
	b, err := json.Marshal(res)
	if err == nil {
		return b
	}
	s.log.Error().Err(err).Str("ack_for", res.AckFor).Msg("encode action result")
	b, _ = json.Marshal(rejected(res.AckFor, protocol.ErrInternal, "result could not be encoded"))
	return b
}

func rejected(ackFor, code, msg string) protocol.ActionResultMsg {
	return protocol.ActionResultMsg{
		Type:            protocol.TypeActionResult,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		Code:            code,
		Message:         msg,
	}
}

// apply runs on the loop.
func (s *Server) apply(cmd protocol.CommandMsg) protocol.ActionResultMsg {
	v := s.village
	res := protocol.ActionResultMsg{Type: protocol.TypeActionResult, ProtocolVersion: protocol.Version, AckFor: cmd.ID}
	var err error
	sessionChanged := false

	switch cmd.Type {
	case protocol.TypePurchase:
		sess, e := v.RequestPurchase(cmd.CatalogID, vec(cmd.Pos))
		err = e
		if e == nil {
			res.Session = sessionMsg(sess, true)
			sessionChanged = true
		}
	case protocol.TypeReposition:
		_, err = v.Reposition(vec(cmd.Pos))
		sessionChanged = err == nil
	case protocol.TypeRotate:
		err = v.Rotate(cmd.RotationZ)
		sessionChanged = err == nil
	case protocol.TypeScale:
		err = v.SetScale(geom.Scale{X: cmd.Scale[0], Y: cmd.Scale[1]})
		sessionChanged = err == nil
	case protocol.TypeConfirm:
		_, hadSession := v.Session()
		obj, e := v.ConfirmPlacement()
		err = e
		sessionChanged = hadSession
		if e == nil {
			res.Object = objectMsg(obj)
		}
	case protocol.TypeCancel:
		err = v.CancelPlacement()
		sessionChanged = err == nil
	case protocol.TypeSelect:
		cand, e := v.NotifyObjectSelected(cmd.InstanceID)
		err = e
		if e == nil {
			res.Object = objectMsg(cand.Object)
			res.Refund = cand.Refund
		}
	case protocol.TypeClearSelection:
		v.ClearSelection()
	case protocol.TypeDelete:
		out, ok, e := v.ConfirmDeletion()
		err = e
		if ok {
			res.Object = objectMsg(out.Object)
			res.Refund = out.Refund
		} else if e == nil {
			res.Message = "nothing selected"
		}
	case protocol.TypeCredit:
		err = v.Ledger().Credit(cmd.Amount)
	case protocol.TypeDebit:
		err = v.Ledger().Debit(cmd.Amount)
	case protocol.TypeSave:
		err = v.Save(saves.TriggerManual)
	case protocol.TypeDismiss:
		v.Board().Dismiss()
	default:
		res.Code = protocol.ErrProtoBadRequest
		res.Message = "unknown command type"
		res.Balance = v.Ledger().Balance()
		return res
	}

	if sessionChanged {
		sess, active := v.Session()
		m := sessionMsg(sess, active)
		m.Type = protocol.TypeSession
		m.ProtocolVersion = protocol.Version
		s.broadcast(m)
		if active {
			res.Session = sessionMsg(sess, true)
		}
	}
	res.Balance = v.Ledger().Balance()
	if err != nil {
		res.Code = protocol.CodeFor(err)
		res.Message = err.Error()
		return res
	}
	res.Accepted = true
	return res
}

func (s *Server) onLedger(c ledger.Change) {
	s.broadcast(protocol.BalanceMsg{
		Type:            protocol.TypeBalance,
		ProtocolVersion: protocol.Version,
		Kind:            string(c.Kind),
		Delta:           c.Delta,
		Balance:         c.Balance,
	})
}

func (s *Server) onFeedback(ev feedback.Event) {
	typ := protocol.TypeMessage
	if ev.Kind == feedback.Hidden {
		typ = protocol.TypeMessageClear
	}
	s.broadcast(feedbackMsg(typ, ev.Message))
}

func (s *Server) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("encode broadcast")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if !c.send(b) {
			s.log.Debug().Str("client_id", c.id).Msg("dropping event for slow client")
		}
	}
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
