package hud

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"villagecraft.ai/internal/economy/ledger"
	"villagecraft.ai/internal/eventloop"
	"villagecraft.ai/internal/metrics"
	"villagecraft.ai/internal/protocol"
	"villagecraft.ai/internal/village"
	"villagecraft.ai/internal/village/catalog"
	"villagecraft.ai/internal/village/feedback"
	"villagecraft.ai/internal/village/placement"
	"villagecraft.ai/internal/village/world"
)

type nopSaver struct{ n int }

func (s *nopSaver) Save(string) error { s.n++; return nil }

func startServer(t *testing.T, balance int64) (*httptest.Server, *Server) {
	t.Helper()
	cat, err := catalog.New([]catalog.Entry{
		{ID: "house", DisplayName: "House", Cost: 100, RefundRatio: decimal.RequireFromString("0.5")},
		{ID: "well", DisplayName: "Well", Cost: 40, RefundRatio: decimal.RequireFromString("0.75")},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	loop := eventloop.New(64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()

	reg := prometheus.NewRegistry()
	v := village.New(village.Options{
		Ledger:    ledger.New(balance),
		Catalog:   cat,
		World:     world.New(),
		Placement: placement.NewController(0.5),
		Board:     feedback.NewBoard(loop, time.Minute),
		Saver:     &nopSaver{},
		Metrics:   metrics.NewVillageMetrics(reg),
		Log:       zerolog.Nop(),
	})
	srv := NewServer(Options{Village: v, Loop: loop, Log: zerolog.Nop(), Gatherer: reg})
	if err := loop.Do(ctx, srv.Attach); err != nil {
		t.Fatalf("attach: %v", err)
	}
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hs.Close()
		_ = loop.Do(context.Background(), func() {
			srv.Detach()
			v.Close()
		})
		cancel()
		<-done
	})
	return hs, srv
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/v1/hud"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return conn
}

type frame struct {
	raw  []byte
	base protocol.BaseMessage
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return frame{raw: b, base: base}
}

// send issues a command and collects frames until its ACTION_RESULT arrives.
func send(t *testing.T, conn *websocket.Conn, cmd protocol.CommandMsg) (protocol.ActionResultMsg, []frame) {
	t.Helper()
	cmd.ProtocolVersion = protocol.Version
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write: %v", err)
	}
	var events []frame
	for {
		f := readFrame(t, conn)
		if f.base.Type != protocol.TypeActionResult {
			events = append(events, f)
			continue
		}
		var res protocol.ActionResultMsg
		if err := json.Unmarshal(f.raw, &res); err != nil {
			t.Fatalf("result: %v", err)
		}
		if res.AckFor != cmd.ID {
			t.Fatalf("ack_for=%q want %q", res.AckFor, cmd.ID)
		}
		return res, events
	}
}

func hasType(events []frame, typ string) bool {
	for _, f := range events {
		if f.base.Type == typ {
			return true
		}
	}
	return false
}

func TestHUDPurchaseAndSell(t *testing.T) {
	hs, srv := startServer(t, 150)
	conn := dial(t, hs)

	f := readFrame(t, conn)
	if f.base.Type != protocol.TypeWelcome {
		t.Fatalf("first frame=%s", f.base.Type)
	}
	var welcome protocol.WelcomeMsg
	_ = json.Unmarshal(f.raw, &welcome)
	if welcome.State.Balance != 150 || len(welcome.Catalog.Entries) != 2 || welcome.Catalog.Entries[0].RefundRatio != "0.5" {
		t.Fatalf("welcome=%+v", welcome)
	}
	if srv.Clients() != 1 {
		t.Fatalf("clients=%d", srv.Clients())
	}

	res, events := send(t, conn, protocol.CommandMsg{Type: protocol.TypePurchase, ID: "c1", CatalogID: "house", Pos: [3]float64{2.3, 2.1, 0}})
	if !res.Accepted || res.Session == nil || res.Session.Pos[0] != 2.5 || res.Session.Pos[1] != 2.0 {
		t.Fatalf("purchase=%+v", res)
	}
	if !hasType(events, protocol.TypeSession) || !hasType(events, protocol.TypeMessage) {
		t.Fatalf("missing events: %d frames", len(events))
	}

	res, _ = send(t, conn, protocol.CommandMsg{Type: protocol.TypeReposition, ID: "c2", Pos: [3]float64{1.1, 0, 0}})
	if !res.Accepted || res.Session.Pos[0] != 1.0 {
		t.Fatalf("reposition=%+v", res)
	}

	res, events = send(t, conn, protocol.CommandMsg{Type: protocol.TypeConfirm, ID: "c3"})
	if !res.Accepted || res.Object == nil || res.Balance != 50 || res.Object.OriginalCost != 100 {
		t.Fatalf("confirm=%+v", res)
	}
	if !hasType(events, protocol.TypeBalance) {
		t.Fatalf("no balance event")
	}
	id := res.Object.InstanceID

	res, _ = send(t, conn, protocol.CommandMsg{Type: protocol.TypePurchase, ID: "c4", CatalogID: "house"})
	if res.Accepted || res.Code != protocol.ErrInsufficientFunds || res.Session != nil {
		t.Fatalf("second purchase=%+v", res)
	}

	res, _ = send(t, conn, protocol.CommandMsg{Type: protocol.TypeSelect, ID: "c5", InstanceID: id})
	if !res.Accepted || res.Refund != 50 {
		t.Fatalf("select=%+v", res)
	}
	res, _ = send(t, conn, protocol.CommandMsg{Type: protocol.TypeDelete, ID: "c6"})
	if !res.Accepted || res.Balance != 100 || res.Refund != 50 {
		t.Fatalf("delete=%+v", res)
	}

	resp, err := http.Get(hs.URL + "/v1/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer resp.Body.Close()
	var st protocol.StateMsg
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.Balance != 100 || len(st.Objects) != 0 || st.Session != nil {
		t.Fatalf("state=%+v", st)
	}
}

func TestHUDRejectsBadCommands(t *testing.T) {
	hs, _ := startServer(t, 10)
	conn := dial(t, hs)
	_ = readFrame(t, conn)

	cases := []struct {
		cmd  protocol.CommandMsg
		code string
	}{
		{protocol.CommandMsg{Type: "FLY", ID: "b1"}, protocol.ErrProtoBadRequest},
		{protocol.CommandMsg{Type: protocol.TypeCredit, ID: "b2", Amount: -3}, protocol.ErrInvalidAmount},
		{protocol.CommandMsg{Type: protocol.TypeConfirm, ID: "b3"}, protocol.ErrNoSession},
		{protocol.CommandMsg{Type: protocol.TypePurchase, ID: "b4", CatalogID: "castle"}, protocol.ErrUnknownCatalog},
		{protocol.CommandMsg{Type: protocol.TypeSelect, ID: "b5", InstanceID: "missing"}, protocol.ErrNotFound},
	}
	for _, tc := range cases {
		res, _ := send(t, conn, tc.cmd)
		if res.Accepted || res.Code != tc.code {
			t.Fatalf("%s: res=%+v want %s", tc.cmd.ID, res, tc.code)
		}
	}

	res, events := send(t, conn, protocol.CommandMsg{Type: protocol.TypeCredit, ID: "ok1", Amount: 5})
	if !res.Accepted || res.Balance != 15 || !hasType(events, protocol.TypeBalance) {
		t.Fatalf("credit=%+v", res)
	}
}

func TestHUDDismissClearsMessage(t *testing.T) {
	hs, srv := startServer(t, 10)
	conn := dial(t, hs)
	_ = readFrame(t, conn)

	res, events := send(t, conn, protocol.CommandMsg{Type: protocol.TypePurchase, ID: "d1", CatalogID: "castle"})
	if res.Accepted || !hasType(events, protocol.TypeMessage) {
		t.Fatalf("purchase=%+v events=%d", res, len(events))
	}
	res, events = send(t, conn, protocol.CommandMsg{Type: protocol.TypeDismiss, ID: "d2"})
	if !res.Accepted || !hasType(events, protocol.TypeMessageClear) {
		t.Fatalf("dismiss=%+v events=%d", res, len(events))
	}
	var shown bool
	if err := srv.loop.Do(context.Background(), func() { _, shown = srv.village.Board().Current() }); err != nil {
		t.Fatalf("do: %v", err)
	}
	if shown {
		t.Fatalf("message still shown after dismiss")
	}
}

func TestHUDRejectsOutOfRangeValues(t *testing.T) {
	hs, _ := startServer(t, 100)
	conn := dial(t, hs)
	_ = readFrame(t, conn)

	res, _ := send(t, conn, protocol.CommandMsg{Type: protocol.TypeCredit, ID: "o1", Amount: math.MaxInt64})
	if res.Accepted || res.Code != protocol.ErrInvalidAmount || res.Balance != 100 {
		t.Fatalf("overflowing credit=%+v", res)
	}

	res, _ = send(t, conn, protocol.CommandMsg{Type: protocol.TypePurchase, ID: "o2", CatalogID: "well", Pos: [3]float64{1e308, 0, 0}})
	if res.Accepted || res.Code != protocol.ErrProtoBadRequest || res.Session != nil {
		t.Fatalf("purchase at 1e308=%+v", res)
	}
	res, _ = send(t, conn, protocol.CommandMsg{Type: protocol.TypePurchase, ID: "o3", CatalogID: "well", Pos: [3]float64{3, 0, 0}})
	if !res.Accepted {
		t.Fatalf("purchase=%+v", res)
	}
	res, _ = send(t, conn, protocol.CommandMsg{Type: protocol.TypeReposition, ID: "o4", Pos: [3]float64{0, -2e6, 0}})
	if res.Accepted || res.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("reposition out of range=%+v", res)
	}
	res, _ = send(t, conn, protocol.CommandMsg{Type: protocol.TypeConfirm, ID: "o5"})
	if !res.Accepted || res.Object == nil || res.Object.Pos[0] != 3 {
		t.Fatalf("confirm=%+v", res)
	}
}

func TestEncodeResultFallsBack(t *testing.T) {
	_, srv := startServer(t, 1)
	b := srv.encodeResult(protocol.ActionResultMsg{
		Type:     protocol.TypeActionResult,
		AckFor:   "n1",
		Accepted: true,
		Object:   &protocol.ObjectMsg{Pos: [3]float64{math.Inf(1), 0, 0}},
	})
	var res protocol.ActionResultMsg
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("fallback frame not JSON: %v (%q)", err, b)
	}
	if res.Accepted || res.AckFor != "n1" || res.Code != protocol.ErrInternal {
		t.Fatalf("fallback=%+v", res)
	}
}

func TestHUDRequiresHello(t *testing.T) {
	hs, _ := startServer(t, 10)
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/v1/hud"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(protocol.CommandMsg{Type: protocol.TypeCredit, ID: "x", Amount: 1})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v", err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	hs, _ := startServer(t, 42)
	for path, want := range map[string]string{"/healthz": "ok", "/metrics": "village_balance 42"} {
		resp, err := http.Get(hs.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), want) {
			t.Fatalf("%s: status=%d body=%q", path, resp.StatusCode, b)
		}
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:9000": true,
		"[::1]:80":       true,
		"10.0.0.2:1234":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v", in, got)
		}
	}
}
