package parkour

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// testConfig produces a straight, flat track: every block is 4 further along
// X, so the initial frontier is 40 and each extension adds 20.
func testConfig() Config {
	conf := DefaultConfig()
	conf.MinAdvance, conf.MaxAdvance = 4, 4
	conf.MinRise, conf.MaxRise = 0, 0
	conf.InitialLength = 10
	conf.SegmentLength = 5
	conf.LookaheadMargin = 16
	conf.TickInterval = time.Hour
	conf.GatewayTimeout = time.Second
	return conf
}

func newTestController(t *testing.T, gw WorldGateway, mutate func(c *Config)) *Controller {
	t.Helper()
	conf := testConfig()
	if mutate != nil {
		mutate(&conf)
	}
	c, err := NewBuilder().
		Config(conf).
		Gateway(gw).
		Logger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Seeds(func() int64 { return 42 }).
		Init()
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func at(x, y float64) mgl64.Vec3 {
	return mgl64.Vec3{x, y, 0.5}
}

func mustStart(t *testing.T, c *Controller, id uuid.UUID) Reply {
	t.Helper()
	reply, err := c.Handle(context.Background(), EventStart{Player: id, Name: "Steve"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return reply
}

func mustMove(t *testing.T, c *Controller, id uuid.UUID, pos mgl64.Vec3) Reply {
	t.Helper()
	reply, err := c.Handle(context.Background(), EventMove{Player: id, Position: pos})
	if err != nil {
		t.Fatalf("move to %v: %v", pos, err)
	}
	return reply
}

func mustSession(t *testing.T, c *Controller, id uuid.UUID) Session {
	t.Helper()
	s, err := c.Session(id)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

func TestBuilder_RequiresGateway(t *testing.T) {
	if _, err := NewBuilder().Init(); err == nil {
		t.Fatalf("expected an error without gateway")
	}

	conf := DefaultConfig()
	conf.SegmentLength = 0
	if _, err := NewBuilder().Config(conf).Gateway(newFakeGateway()).Init(); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("err=%v want ErrInvalidParameters", err)
	}
}

func TestController_StartBuildsArena(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	id := uuid.New()

	reply := mustStart(t, c, id)
	if len(reply.Messages) != 1 || reply.Messages[0].Text != "Starting InfinityParkour!" {
		t.Fatalf("messages=%+v", reply.Messages)
	}
	if reply.Score == nil || reply.Score.Title != "Parkour" || reply.Score.Player != "Steve" || reply.Score.Distance != 0 {
		t.Fatalf("score=%+v", reply.Score)
	}

	s := mustSession(t, c, id)
	if s.State != StateActive {
		t.Fatalf("state=%s want Active", s.State)
	}
	if s.FrontierX != 40 || s.CurrentDistance != 0 {
		t.Fatalf("frontier=%d distance=%d want 40/0", s.FrontierX, s.CurrentDistance)
	}
	if s.Arena.Len() != 11 {
		t.Fatalf("block log=%d want platform + 10", s.Arena.Len())
	}
	if s.Spawn != gw.spawn {
		t.Fatalf("spawn=%v want %v", s.Spawn, gw.spawn)
	}

	snap := gw.snapshot()
	if len(snap.created) != 1 || snap.created[0] != s.ArenaID {
		t.Fatalf("created=%v", snap.created)
	}
	if got := len(gw.placed(s.ArenaID)); got != 11 {
		t.Fatalf("placed=%d want 11", got)
	}
	if len(snap.teleports) != 1 || snap.teleports[0].pos != gw.spawn || snap.teleports[0].player != id {
		t.Fatalf("teleports=%+v", snap.teleports)
	}
}

func TestController_EndToEndExtendsTrack(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	id := uuid.New()
	mustStart(t, c, id)

	mustMove(t, c, id, at(10.2, 65))
	if s := mustSession(t, c, id); s.CurrentDistance != 10 || s.FrontierX != 40 {
		t.Fatalf("after x=10: distance=%d frontier=%d", s.CurrentDistance, s.FrontierX)
	}
	placedBefore := gw.snapshot().placeCalls

	reply := mustMove(t, c, id, at(40.5, 65))
	if reply.Progress != (ProgressEvent{Kind: Advanced, Distance: 40}) {
		t.Fatalf("progress=%+v", reply.Progress)
	}

	s := mustSession(t, c, id)
	if s.CurrentDistance != 40 {
		t.Fatalf("distance=%d want 40", s.CurrentDistance)
	}
	if s.FrontierX != 60 || s.Segments != 2 {
		t.Fatalf("frontier=%d segments=%d want 60/2", s.FrontierX, s.Segments)
	}
	if got := gw.snapshot().placeCalls - placedBefore; got != 5 {
		t.Fatalf("placed %d blocks on extension, want 5", got)
	}
}

func TestController_AdvanceThenFall(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	id := uuid.New()
	mustStart(t, c, id)

	var events []ProgressEvent
	for _, x := range []float64{10, 20, 30, 40, 50} {
		events = append(events, mustMove(t, c, id, at(x, 65)).Progress)
	}
	if last := events[len(events)-1]; last != (ProgressEvent{Kind: Advanced, Distance: 50}) {
		t.Fatalf("last progress=%+v want Advanced(50)", last)
	}
	frontier := mustSession(t, c, id).FrontierX

	reply := mustMove(t, c, id, at(51, -2))
	if reply.Progress.Kind != Fell {
		t.Fatalf("progress=%+v want Fell", reply.Progress)
	}
	if len(reply.Messages) != 1 || reply.Messages[0].Text != "You fell! Try again." {
		t.Fatalf("messages=%+v", reply.Messages)
	}

	s := mustSession(t, c, id)
	if s.CurrentDistance != 0 {
		t.Fatalf("distance=%d want 0", s.CurrentDistance)
	}
	if s.BestDistance != 50 || s.Falls != 1 {
		t.Fatalf("best=%d falls=%d want 50/1", s.BestDistance, s.Falls)
	}
	if s.FrontierX != frontier {
		t.Fatalf("frontier changed on fall: %d -> %d", frontier, s.FrontierX)
	}

	snap := gw.snapshot()
	if len(snap.teleports) != 2 || snap.teleports[1].pos != s.Spawn {
		t.Fatalf("teleports=%+v", snap.teleports)
	}
}

func TestController_RestartTearsDownPreviousArena(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	id := uuid.New()

	mustStart(t, c, id)
	first := mustSession(t, c, id).ArenaID
	mustMove(t, c, id, at(20, 65))

	mustStart(t, c, id)
	s := mustSession(t, c, id)
	if s.ArenaID == first {
		t.Fatalf("restart kept arena %s", first)
	}
	if s.CurrentDistance != 0 {
		t.Fatalf("distance=%d want 0 after restart", s.CurrentDistance)
	}

	snap := gw.snapshot()
	if len(snap.destroyed) != 1 || snap.destroyed[0] != first {
		t.Fatalf("destroyed=%v want [%s]", snap.destroyed, first)
	}
	if len(snap.created) != 2 {
		t.Fatalf("created=%v", snap.created)
	}
	if c.Store().Len() != 1 {
		t.Fatalf("sessions=%d want 1", c.Store().Len())
	}
}

func TestController_QuitReleasesArena(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	id := uuid.New()
	mustStart(t, c, id)
	arena := mustSession(t, c, id).ArenaID

	reply, err := c.Handle(context.Background(), EventQuit{Player: id})
	if err != nil {
		t.Fatalf("quit: %v", err)
	}
	if !reply.ClearScore {
		t.Fatalf("reply should clear the scoreboard")
	}
	if _, err := c.Session(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if snap := gw.snapshot(); len(snap.destroyed) != 1 || snap.destroyed[0] != arena {
		t.Fatalf("destroyed=%v", snap.destroyed)
	}

	// A second quit and moves after quitting are no-ops.
	if _, err := c.Handle(context.Background(), EventStop{Player: id}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if reply := mustMove(t, c, id, at(10, 65)); reply.Progress.Kind != NoChange || reply.Score != nil {
		t.Fatalf("reply=%+v want empty", reply)
	}
	if snap := gw.snapshot(); len(snap.destroyed) != 1 {
		t.Fatalf("destroyed=%v", snap.destroyed)
	}
}

func TestController_JoinHonoursAutoStart(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	id := uuid.New()

	if _, err := c.Handle(context.Background(), EventJoin{Player: id, Name: "Alex"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if c.Active(id) {
		t.Fatalf("join started a session without auto_start")
	}

	gw = newFakeGateway()
	c = newTestController(t, gw, func(c *Config) { c.AutoStart = true })
	if _, err := c.Handle(context.Background(), EventJoin{Player: id, Name: "Alex"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !c.Active(id) {
		t.Fatalf("join did not start a session with auto_start")
	}
}

type unknownEvent struct{}

func (unknownEvent) PlayerID() uuid.UUID { return uuid.Nil }

func TestController_RejectsUnknownEvent(t *testing.T) {
	c := newTestController(t, newFakeGateway(), nil)
	if _, err := c.Handle(context.Background(), unknownEvent{}); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("err=%v want ErrInvalidParameters", err)
	}
}

func TestController_RetriesPlacementWithShorterSegment(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	id := uuid.New()
	mustStart(t, c, id)

	gw.set(func(g *fakeGateway) { g.failPlace = 1 })
	reply := mustMove(t, c, id, at(40, 65))
	if len(reply.Messages) != 0 {
		t.Fatalf("messages=%+v want none", reply.Messages)
	}

	// The retry places half a segment: 2 blocks.
	s := mustSession(t, c, id)
	if s.FrontierX != 48 {
		t.Fatalf("frontier=%d want 48", s.FrontierX)
	}
	if got := len(gw.placed(s.ArenaID)); got != s.Arena.Len() {
		t.Fatalf("gateway holds %d blocks, session logged %d", got, s.Arena.Len())
	}
}

func TestController_SurfacesWorldUnavailable(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	id := uuid.New()
	mustStart(t, c, id)

	gw.set(func(g *fakeGateway) { g.failPlace = -1 })
	before := gw.snapshot().placeCalls

	reply, err := c.Handle(context.Background(), EventMove{Player: id, Position: at(40, 65)})
	if !errors.Is(err, ErrWorldUnavailable) {
		t.Fatalf("err=%v want ErrWorldUnavailable", err)
	}
	if len(reply.Messages) != 1 || reply.Messages[0].Tone != ToneError {
		t.Fatalf("messages=%+v want one error", reply.Messages)
	}
	if got := gw.snapshot().placeCalls - before; got != 2 {
		t.Fatalf("placement attempts=%d want 2", got)
	}

	s := mustSession(t, c, id)
	if s.State != StateActive || s.CurrentDistance != 40 || s.FrontierX != 40 {
		t.Fatalf("session=%s", s)
	}

	// The next tick retries once the host recovers.
	gw.set(func(g *fakeGateway) { g.failPlace = 0 })
	c.Tick(context.Background())
	if s := mustSession(t, c, id); s.FrontierX != 60 {
		t.Fatalf("frontier=%d want 60 after tick", s.FrontierX)
	}
}

func TestController_RetriesTeleportOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.failTeleport = 1
	c := newTestController(t, gw, nil)
	id := uuid.New()

	mustStart(t, c, id)
	snap := gw.snapshot()
	if snap.teleportTrys != 2 || len(snap.teleports) != 1 {
		t.Fatalf("teleport attempts=%d succeeded=%d want 2/1", snap.teleportTrys, len(snap.teleports))
	}

	gw.set(func(g *fakeGateway) { g.failTeleport = -1 })
	reply, err := c.Handle(context.Background(), EventMove{Player: id, Position: at(3, -1)})
	if !errors.Is(err, ErrWorldUnavailable) {
		t.Fatalf("err=%v want ErrWorldUnavailable", err)
	}
	if reply.Progress.Kind != Fell {
		t.Fatalf("progress=%+v want Fell", reply.Progress)
	}
	if !c.Active(id) {
		t.Fatalf("session ended after a failed teleport")
	}
}

func TestController_StartFailsWithoutArena(t *testing.T) {
	gw := newFakeGateway()
	gw.failCreate = -1
	c := newTestController(t, gw, nil)
	id := uuid.New()

	reply, err := c.Handle(context.Background(), EventStart{Player: id, Name: "Steve"})
	if !errors.Is(err, ErrWorldUnavailable) {
		t.Fatalf("err=%v want ErrWorldUnavailable", err)
	}
	if len(reply.Messages) != 1 || reply.Messages[0].Tone != ToneError {
		t.Fatalf("messages=%+v", reply.Messages)
	}
	if gw.snapshot().createCalls != 2 {
		t.Fatalf("create attempts=%d want 2", gw.snapshot().createCalls)
	}
	if c.Active(id) {
		t.Fatalf("session created without an arena")
	}
}

func TestController_GatewayTimeout(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, func(c *Config) { c.GatewayTimeout = 20 * time.Millisecond })
	id := uuid.New()
	mustStart(t, c, id)
	arena := mustSession(t, c, id).ArenaID

	hold := make(chan struct{})
	defer close(hold)
	gw.setHold(arena, hold)

	_, err := c.Handle(context.Background(), EventMove{Player: id, Position: at(40, 65)})
	if !errors.Is(err, ErrWorldUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want ErrWorldUnavailable wrapping a deadline", err)
	}
	if !c.Active(id) {
		t.Fatalf("session ended after a timeout")
	}
}

func TestController_PlayersAreIsolated(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	a, b := uuid.New(), uuid.New()
	mustStart(t, c, a)
	mustStart(t, c, b)

	arenaA := mustSession(t, c, a).ArenaID
	hold := make(chan struct{})
	gw.setHold(arenaA, hold)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Handle(context.Background(), EventMove{Player: a, Position: at(40, 65)})
	}()
	<-gw.entered

	done := make(chan Reply, 1)
	go func() {
		reply, _ := c.Handle(context.Background(), EventMove{Player: b, Position: at(40, 65)})
		done <- reply
	}()

	select {
	case reply := <-done:
		if reply.Progress.Kind != Advanced {
			t.Fatalf("progress=%+v want Advanced", reply.Progress)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("player b blocked on player a's gateway call")
	}
	if s := mustSession(t, c, b); s.FrontierX != 60 {
		t.Fatalf("frontier of b=%d want 60", s.FrontierX)
	}

	gw.setHold(arenaA, nil)
	close(hold)
	wg.Wait()
	if s := mustSession(t, c, a); s.CurrentDistance != 40 {
		t.Fatalf("distance of a=%d want 40", s.CurrentDistance)
	}
}

func TestController_ShutdownReleasesEveryArena(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, nil)
	for range 3 {
		mustStart(t, c, uuid.New())
	}

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if c.Store().Len() != 0 {
		t.Fatalf("sessions=%d want 0", c.Store().Len())
	}
	if snap := gw.snapshot(); len(snap.destroyed) != 3 {
		t.Fatalf("destroyed=%v want 3 arenas", snap.destroyed)
	}
}

func TestController_TickSkipsStalledPlayer(t *testing.T) {
	gw := newFakeGateway()
	c := newTestController(t, gw, func(c *Config) {
		c.LookaheadMargin = 100
		c.GatewayTimeout = 10 * time.Second
	})
	a, b := uuid.New(), uuid.New()
	mustStart(t, c, a)
	mustStart(t, c, b)

	arenaA := mustSession(t, c, a).ArenaID
	hold := make(chan struct{})
	gw.setHold(arenaA, hold)

	moved := make(chan struct{})
	go func() {
		defer close(moved)
		_, _ = c.Handle(context.Background(), EventMove{Player: a, Position: at(1, 64)})
	}()
	<-gw.entered

	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		c.Tick(context.Background())
	}()
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatalf("tick blocked on player a's gateway call")
	}
	if s := mustSession(t, c, b); s.FrontierX != 60 {
		t.Fatalf("frontier of b=%d want 60", s.FrontierX)
	}
	if s := mustSession(t, c, a); s.FrontierX != 40 {
		t.Fatalf("frontier of a=%d want 40 while its update is held", s.FrontierX)
	}

	gw.setHold(arenaA, nil)
	close(hold)
	<-moved
	if s := mustSession(t, c, a); s.CurrentDistance != 1 || s.FrontierX != 60 {
		t.Fatalf("a after release: distance=%d frontier=%d want 1/60", s.CurrentDistance, s.FrontierX)
	}
}
