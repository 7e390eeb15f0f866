package orch

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/streamrelay/internal/app"
	"github.com/dkeye/streamrelay/internal/core"
	"github.com/dkeye/streamrelay/internal/domain"
)

type staticCodes struct {
	mu    sync.Mutex
	codes []domain.StreamCode
	next  int
}

func (s *staticCodes) Generate() (domain.StreamCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := s.codes[s.next%len(s.codes)]
	s.next++
	return code, nil
}

type inbox struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (b *inbox) TrySend(f core.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, append(core.Frame(nil), f...))
	return nil
}

func (b *inbox) Close() {}

func (b *inbox) messages(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, 0, len(b.frames))
	for _, f := range b.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("frame %s: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func (b *inbox) types(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, m := range b.messages(t) {
		out = append(out, m["type"].(string))
	}
	return out
}

func (b *inbox) count(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, got := range b.types(t) {
		if got == typ {
			n++
		}
	}
	return n
}

type harness struct {
	o     *Orchestrator
	boxes map[domain.ConnID]*inbox
	mu    sync.Mutex
}

func newHarness(codes ...domain.StreamCode) *harness {
	var gen core.CodeGenerator = app.NewRandomCodes(6)
	if len(codes) > 0 {
		gen = &staticCodes{codes: codes}
	}
	sessions := app.NewSessionRegistry(gen)
	conns := app.NewConnectionTracker()
	return &harness{
		o:     New(sessions, conns, app.NewRouter(sessions, conns, app.KickPolicy{})),
		boxes: make(map[domain.ConnID]*inbox),
	}
}

func (h *harness) connect(id domain.ConnID) *inbox {
	b := &inbox{}
	h.mu.Lock()
	h.boxes[id] = b
	h.mu.Unlock()
	h.o.OnConnect(id, b, nil)
	return b
}

func (h *harness) role(t *testing.T, id domain.ConnID) domain.Role {
	t.Helper()
	p, err := h.o.Conns.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", id, err)
	}
	return p.Role
}

func TestStartStream(t *testing.T) {
	h := newHarness("AB12CD")
	host := h.connect("H")

	code, err := h.o.OnStartStream("H")
	if err != nil {
		t.Fatalf("OnStartStream: %v", err)
	}
	if code != "AB12CD" {
		t.Fatalf("code=%q", code)
	}
	msgs := host.messages(t)
	if len(msgs) != 1 || msgs[0]["type"] != "stream_started" || msgs[0]["stream_code"] != "AB12CD" {
		t.Fatalf("host messages=%v", msgs)
	}
	if h.role(t, "H") != domain.RoleHost {
		t.Fatal("H is not host")
	}
}

func TestStartStream_AlreadyHostingKeepsFirst(t *testing.T) {
	h := newHarness("AAAAAA", "BBBBBB")
	h.connect("H")
	first, _ := h.o.OnStartStream("H")

	if _, err := h.o.OnStartStream("H"); !errors.Is(err, domain.ErrAlreadyHosting) {
		t.Fatalf("err=%v, want ErrAlreadyHosting", err)
	}
	codes := h.o.Sessions.Codes()
	if len(codes) != 1 || codes[0] != first {
		t.Fatalf("codes=%v, want [%s]", codes, first)
	}
}

func TestStartStream_ViewerCannotHost(t *testing.T) {
	h := newHarness("AAAAAA", "BBBBBB")
	h.connect("H")
	h.connect("V")
	code, _ := h.o.OnStartStream("H")
	if err := h.o.OnJoinStream("V", code); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := h.o.OnStartStream("V"); !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Fatalf("err=%v, want ErrAlreadyAssigned", err)
	}
	if h.o.Sessions.Count() != 1 {
		t.Fatalf("streams=%d", h.o.Sessions.Count())
	}
}

func TestJoinStream_InvalidCode(t *testing.T) {
	h := newHarness()
	v := h.connect("V")
	if err := h.o.OnJoinStream("V", "ZZZZZZ"); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("err=%v, want ErrInvalidCode", err)
	}
	if h.role(t, "V") != domain.RoleUnassigned {
		t.Fatal("viewer record created for invalid code")
	}
	if got := v.types(t); len(got) != 0 {
		t.Fatalf("unexpected frames %v", got)
	}
}

func TestJoinStream_NotifiesBothSides(t *testing.T) {
	h := newHarness("AB12CD")
	host := h.connect("H")
	viewer := h.connect("V")
	_, _ = h.o.OnStartStream("H")

	if err := h.o.OnJoinStream("V", "AB12CD"); err != nil {
		t.Fatalf("join: %v", err)
	}
	vm := viewer.messages(t)
	if len(vm) != 1 || vm[0]["type"] != "stream_joined" || vm[0]["host_id"] != "H" || vm[0]["stream_code"] != "AB12CD" {
		t.Fatalf("viewer messages=%v", vm)
	}
	hm := host.messages(t)
	if len(hm) != 2 || hm[1]["type"] != "viewer_joined" || hm[1]["viewer_id"] != "V" {
		t.Fatalf("host messages=%v", hm)
	}

	if err := h.o.OnJoinStream("V", "AB12CD"); !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Fatalf("second join err=%v, want ErrAlreadyAssigned", err)
	}
	if err := h.o.OnJoinStream("H", "AB12CD"); !errors.Is(err, domain.ErrAlreadyAssigned) {
		t.Fatalf("host join err=%v, want ErrAlreadyAssigned", err)
	}
}

func TestHostDisconnect_EndsStreamForEveryViewer(t *testing.T) {
	h := newHarness("AAAAAA", "BBBBBB")
	h.connect("H")
	code, _ := h.o.OnStartStream("H")

	const n = 5
	for i := 0; i < n; i++ {
		id := domain.ConnID(fmt.Sprintf("V%d", i))
		h.connect(id)
		if err := h.o.OnJoinStream(id, code); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	h.o.OnDisconnect("H")

	for i := 0; i < n; i++ {
		id := domain.ConnID(fmt.Sprintf("V%d", i))
		if got := h.boxes[id].count(t, "stream_ended"); got != 1 {
			t.Fatalf("%s stream_ended=%d, want 1", id, got)
		}
		if h.role(t, id) != domain.RoleUnassigned {
			t.Fatalf("%s still has a role", id)
		}
	}
	if _, err := h.o.Stream(code); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("stream still present: %v", err)
	}
	if h.o.Stats().Streams != 0 {
		t.Fatalf("stats=%+v", h.o.Stats())
	}

	// Evicted viewers may join something else right away.
	h.connect("H2")
	code2, _ := h.o.OnStartStream("H2")
	if err := h.o.OnJoinStream("V0", code2); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
}

func TestScenario_FullHandshakeThenHostLeaves(t *testing.T) {
	h := newHarness("AB12CD")
	host := h.connect("H")
	viewer := h.connect("V")

	code, err := h.o.OnStartStream("H")
	if err != nil || code != "AB12CD" {
		t.Fatalf("start code=%q err=%v", code, err)
	}
	if err := h.o.OnJoinStream("V", "AB12CD"); err != nil {
		t.Fatalf("join: %v", err)
	}

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0\r\n"}`)
	cand := json.RawMessage(`{"candidate":"candidate:0 1 UDP 1 192.0.2.1 9 typ host","sdpMid":"0"}`)
	if err := h.o.Router.Route("H", core.EventOffer, "V", offer); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := h.o.Router.Route("V", core.EventAnswer, "H", answer); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := h.o.Router.Route("V", core.EventICECandidate, "H", cand); err != nil {
		t.Fatalf("candidate: %v", err)
	}

	h.o.OnDisconnect("H")

	wantV := []string{"stream_joined", "offer", "stream_ended"}
	if got := viewer.types(t); fmt.Sprint(got) != fmt.Sprint(wantV) {
		t.Fatalf("viewer saw %v, want %v", got, wantV)
	}
	wantH := []string{"stream_started", "viewer_joined", "answer", "ice_candidate"}
	if got := host.types(t); fmt.Sprint(got) != fmt.Sprint(wantH) {
		t.Fatalf("host saw %v, want %v", got, wantH)
	}
	vm := viewer.messages(t)
	if vm[1]["from"] != "H" {
		t.Fatalf("offer from=%v", vm[1]["from"])
	}

	if err := h.o.OnJoinStream("V", "AB12CD"); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("late join err=%v, want ErrInvalidCode", err)
	}
}

func TestEndStream(t *testing.T) {
	h := newHarness("AAAAAA", "BBBBBB")
	host := h.connect("H")
	viewer := h.connect("V")
	code, _ := h.o.OnStartStream("H")
	_ = h.o.OnJoinStream("V", code)

	if _, err := h.o.OnEndStream("V"); !errors.Is(err, domain.ErrNotHosting) {
		t.Fatalf("viewer end err=%v, want ErrNotHosting", err)
	}

	ended, err := h.o.OnEndStream("H")
	if err != nil || ended != code {
		t.Fatalf("OnEndStream=%q err=%v", ended, err)
	}
	if got := viewer.count(t, "stream_ended"); got != 1 {
		t.Fatalf("viewer stream_ended=%d", got)
	}
	if got := host.count(t, "stream_ended"); got != 1 {
		t.Fatalf("host stream_ended=%d", got)
	}
	if h.role(t, "H") != domain.RoleUnassigned || h.role(t, "V") != domain.RoleUnassigned {
		t.Fatal("roles not cleared")
	}
	if _, err := h.o.OnEndStream("H"); !errors.Is(err, domain.ErrNotHosting) {
		t.Fatalf("second end err=%v", err)
	}

	if _, err := h.o.OnStartStream("H"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := host.count(t, "stream_started"); got != 2 {
		t.Fatalf("stream_started=%d, want 2", got)
	}
}

func TestLeaveStream(t *testing.T) {
	h := newHarness("AAAAAA")
	host := h.connect("H")
	viewer := h.connect("V")
	code, _ := h.o.OnStartStream("H")

	if err := h.o.OnLeaveStream("V"); !errors.Is(err, domain.ErrNotViewing) {
		t.Fatalf("leave before join err=%v, want ErrNotViewing", err)
	}
	_ = h.o.OnJoinStream("V", code)
	if err := h.o.OnLeaveStream("V"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if got := viewer.types(t); fmt.Sprint(got) != "[stream_joined left]" {
		t.Fatalf("viewer saw %v", got)
	}
	hm := host.messages(t)
	last := hm[len(hm)-1]
	if last["type"] != "viewer_left" || last["viewer_id"] != "V" {
		t.Fatalf("host last=%v", last)
	}
	if s, _ := h.o.Stream(code); len(s.Viewers) != 0 {
		t.Fatalf("viewers=%v", s.Viewers)
	}
	if h.role(t, "V") != domain.RoleUnassigned {
		t.Fatal("viewer role kept")
	}
}

func TestViewerDisconnect_NotifiesHost(t *testing.T) {
	h := newHarness("AAAAAA")
	host := h.connect("H")
	h.connect("V")
	code, _ := h.o.OnStartStream("H")
	_ = h.o.OnJoinStream("V", code)

	h.o.OnDisconnect("V")
	h.o.OnDisconnect("V")

	if got := host.count(t, "viewer_left"); got != 1 {
		t.Fatalf("viewer_left=%d, want 1", got)
	}
	if s, _ := h.o.Stream(code); len(s.Viewers) != 0 {
		t.Fatalf("viewers=%v", s.Viewers)
	}
	if h.o.Stats().Connections != 1 {
		t.Fatalf("stats=%+v", h.o.Stats())
	}
}

func TestConcurrentJoins(t *testing.T) {
	h := newHarness()
	host := h.connect("H")
	code, _ := h.o.OnStartStream("H")

	const n = 100
	ids := make([]domain.ConnID, n)
	for i := range ids {
		ids[i] = domain.ConnID(fmt.Sprintf("V%03d", i))
		h.connect(ids[i])
	}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error { return h.o.OnJoinStream(id, code) })
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("join: %v", err)
	}

	s, err := h.o.Stream(code)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(s.Viewers) != n {
		t.Fatalf("viewers=%d, want %d", len(s.Viewers), n)
	}
	if got := host.count(t, "viewer_joined"); got != n {
		t.Fatalf("viewer_joined=%d, want %d", got, n)
	}
}

func TestConcurrentJoinsRaceHostDisconnect(t *testing.T) {
	h := newHarness()
	h.connect("H")
	code, _ := h.o.OnStartStream("H")

	const n = 50
	ids := make([]domain.ConnID, n)
	for i := range ids {
		ids[i] = domain.ConnID(fmt.Sprintf("V%03d", i))
		h.connect(ids[i])
	}

	joined := make([]bool, n)
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			err := h.o.OnJoinStream(id, code)
			if err == nil {
				joined[i] = true
				return nil
			}
			if errors.Is(err, domain.ErrInvalidCode) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		h.o.OnDisconnect("H")
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("join: %v", err)
	}

	for i, id := range ids {
		if h.role(t, id) != domain.RoleUnassigned {
			t.Fatalf("%s left dangling as viewer", id)
		}
		types := h.boxes[id].types(t)
		if joined[i] {
			if fmt.Sprint(types) != "[stream_joined stream_ended]" {
				t.Fatalf("%s saw %v", id, types)
			}
		} else if len(types) != 0 {
			t.Fatalf("%s rejected but saw %v", id, types)
		}
	}
	if h.o.Sessions.Count() != 0 {
		t.Fatalf("streams=%d", h.o.Sessions.Count())
	}
}

func TestConcurrentJoinsUnderUnrelatedDisconnect(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness()
		h.connect("H1")
		h.connect("H2")
		h.connect("W")
		h.connect("A")
		h.connect("B")
		code1, _ := h.o.OnStartStream("H1")
		code2, _ := h.o.OnStartStream("H2")
		if err := h.o.OnJoinStream("W", code2); err != nil {
			t.Fatalf("join W: %v", err)
		}

		var g errgroup.Group
		g.Go(func() error { return h.o.OnJoinStream("A", code1) })
		g.Go(func() error { return h.o.OnJoinStream("B", code1) })
		g.Go(func() error {
			h.o.OnDisconnect("H2")
			return nil
		})
		if err := g.Wait(); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}

		s, err := h.o.Stream(code1)
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		got := append([]domain.ConnID(nil), s.Viewers...)
		slices.Sort(got)
		if !slices.Equal(got, []domain.ConnID{"A", "B"}) {
			t.Fatalf("iteration %d: viewers=%v, want [A B]", i, got)
		}
		if h.role(t, "W") != domain.RoleUnassigned {
			t.Fatalf("iteration %d: W still a viewer", i)
		}
		if got := h.boxes["W"].count(t, "stream_ended"); got != 1 {
			t.Fatalf("iteration %d: W stream_ended=%d", i, got)
		}
		if _, err := h.o.Stream(code2); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("iteration %d: stream of H2 survived: %v", i, err)
		}
	}
}
