package parkour

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

var errRejected = errors.New("rejected by host")

type teleportCall struct {
	player uuid.UUID
	arena  ArenaID
	pos    mgl64.Vec3
}

// fakeGateway records every call and lets tests inject failures.
type fakeGateway struct {
	mu sync.Mutex

	spawn  mgl64.Vec3
	nextID int
	live   map[ArenaID]bool
	blocks map[ArenaID][]cube.Pos

	createCalls  int
	placeCalls   int
	created      []ArenaID
	destroyed    []ArenaID
	teleports    []teleportCall
	teleportTrys int

	// failCreate, failPlace and failTeleport fail that many upcoming calls;
	// a negative value fails every call.
	failCreate   int
	failPlace    int
	failTeleport int

	// hold blocks PlaceBlock for an arena until the channel is closed or the
	// call's context expires. entered receives the arena of each held call.
	hold    map[ArenaID]chan struct{}
	entered chan ArenaID
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		spawn:   mgl64.Vec3{0.5, 64, 0.5},
		live:    make(map[ArenaID]bool),
		blocks:  make(map[ArenaID][]cube.Pos),
		hold:    make(map[ArenaID]chan struct{}),
		entered: make(chan ArenaID, 16),
	}
}

func consume(n *int) bool {
	switch {
	case *n < 0:
		return true
	case *n > 0:
		*n--
		return true
	}
	return false
}

func (g *fakeGateway) CreateArena(_ context.Context, tpl Template) (ArenaID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if consume(&g.failCreate) {
		return "", errRejected
	}
	g.nextID++
	id := ArenaID(fmt.Sprintf("%s#%d", tpl.Name, g.nextID))
	g.live[id] = true
	g.blocks[id] = []cube.Pos{tpl.Spawn}
	g.created = append(g.created, id)
	return id, nil
}

func (g *fakeGateway) DestroyArena(_ context.Context, id ArenaID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.live[id] {
		return fmt.Errorf("arena %s does not exist", id)
	}
	delete(g.live, id)
	g.destroyed = append(g.destroyed, id)
	return nil
}

func (g *fakeGateway) PlaceBlock(ctx context.Context, id ArenaID, pos cube.Pos, _ BlockType) error {
	g.mu.Lock()
	hold := g.hold[id]
	g.mu.Unlock()
	if hold != nil {
		g.entered <- id
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.placeCalls++
	if consume(&g.failPlace) {
		return errRejected
	}
	if !g.live[id] {
		return fmt.Errorf("arena %s does not exist", id)
	}
	g.blocks[id] = append(g.blocks[id], pos)
	return nil
}

func (g *fakeGateway) Teleport(_ context.Context, player uuid.UUID, id ArenaID, pos mgl64.Vec3) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.teleportTrys++
	if consume(&g.failTeleport) {
		return errRejected
	}
	g.teleports = append(g.teleports, teleportCall{player: player, arena: id, pos: pos})
	return nil
}

func (g *fakeGateway) SafeSpawn(_ context.Context, id ArenaID) (mgl64.Vec3, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.live[id] {
		return mgl64.Vec3{}, fmt.Errorf("arena %s does not exist", id)
	}
	return g.spawn, nil
}

func (g *fakeGateway) setHold(id ArenaID, ch chan struct{}) {
	g.mu.Lock()
	g.hold[id] = ch
	g.mu.Unlock()
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	fn(g)
	g.mu.Unlock()
}

func (g *fakeGateway) snapshot() fakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fakeGateway{
		createCalls:  g.createCalls,
		placeCalls:   g.placeCalls,
		created:      append([]ArenaID(nil), g.created...),
		destroyed:    append([]ArenaID(nil), g.destroyed...),
		teleports:    append([]teleportCall(nil), g.teleports...),
		teleportTrys: g.teleportTrys,
	}
}

func (g *fakeGateway) placed(id ArenaID) []cube.Pos {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]cube.Pos(nil), g.blocks[id]...)
}
