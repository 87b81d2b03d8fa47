// Package df runs the parkour engine on a Dragonfly server: arenas are
// in-memory worlds, players are driven through a player.Handler and runs are
// started with the /parkour command.
package df

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/df-mc/dragonfly/server/block"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/entity"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/oriumgames/parkour"
)

// Gateway implements parkour.WorldGateway on Dragonfly. Every arena is a
// separate in-memory world; players leaving an arena are sent back to the
// lobby world.
type Gateway struct {
	lobby *world.World
	log   *slog.Logger

	mu      sync.RWMutex
	arenas  map[parkour.ArenaID]*world.World
	players map[uuid.UUID]*world.EntityHandle
	next    uint64
}

var _ parkour.WorldGateway = (*Gateway)(nil)

var errNotInWorld = errors.New("entity is not in a world")

// NewGateway creates a gateway that returns players to lobby.
func NewGateway(lobby *world.World, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		lobby:   lobby,
		log:     log,
		arenas:  make(map[parkour.ArenaID]*world.World),
		players: make(map[uuid.UUID]*world.EntityHandle),
	}
}

// Track makes the player reachable by Teleport.
func (g *Gateway) Track(p *player.Player) {
	g.mu.Lock()
	g.players[p.UUID()] = p.H()
	g.mu.Unlock()
}

// Forget drops a player that left the server.
func (g *Gateway) Forget(id uuid.UUID) {
	g.mu.Lock()
	delete(g.players, id)
	g.mu.Unlock()
}

// Arena returns the world backing an arena.
func (g *Gateway) Arena(id parkour.ArenaID) (*world.World, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	w, ok := g.arenas[id]
	return w, ok
}

// CreateArena creates an empty world with the template's platform block and
// its spawn right above it.
func (g *Gateway) CreateArena(ctx context.Context, tpl parkour.Template) (parkour.ArenaID, error) {
	w := world.Config{
		Log:             g.log.With("arena", tpl.Name),
		Dim:             world.Overworld,
		Provider:        world.NopProvider{},
		Generator:       world.NopGenerator{},
		Entities:        entity.DefaultRegistry,
		RandomTickSpeed: -1,
	}.New()
	w.SetSpawn(tpl.Spawn.Add(cube.Pos{0, 1, 0}))
	w.SetTime(6000)
	w.StopTime()

	platform := resolveBlock(tpl.Platform)
	err := await(ctx, w.Exec(func(tx *world.Tx) {
		tx.SetBlock(tpl.Spawn, platform, nil)
	}))
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("create arena %s: %w", tpl.Name, err)
	}

	g.mu.Lock()
	g.next++
	id := parkour.ArenaID(fmt.Sprintf("%s-%d", tpl.Name, g.next))
	g.arenas[id] = w
	g.mu.Unlock()
	return id, nil
}

// DestroyArena sends every player in the arena back to the lobby and closes
// its world.
func (g *Gateway) DestroyArena(ctx context.Context, id parkour.ArenaID) error {
	g.mu.Lock()
	w, ok := g.arenas[id]
	delete(g.arenas, id)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("destroy arena %s: no such arena", id)
	}

	var handles []*world.EntityHandle
	err := await(ctx, w.Exec(func(tx *world.Tx) {
		for e := range tx.Players() {
			handles = append(handles, tx.RemoveEntity(e))
		}
	}))
	if err != nil {
		// The world is unreachable; keep it registered so the call can be retried.
		g.mu.Lock()
		g.arenas[id] = w
		g.mu.Unlock()
		return fmt.Errorf("destroy arena %s: %w", id, err)
	}

	spawn := centre(g.lobby.Spawn())
	for _, h := range handles {
		if err := g.enter(ctx, g.lobby, h, spawn); err != nil {
			g.log.Warn("parkour: could not return player to lobby", "arena", id, "error", err)
		}
	}
	return w.Close()
}

// PlaceBlock sets a block in the arena.
func (g *Gateway) PlaceBlock(ctx context.Context, id parkour.ArenaID, pos cube.Pos, typ parkour.BlockType) error {
	w, ok := g.Arena(id)
	if !ok {
		return fmt.Errorf("place block: no such arena %s", id)
	}
	b := resolveBlock(typ)
	return await(ctx, w.Exec(func(tx *world.Tx) {
		tx.SetBlock(pos, b, nil)
	}))
}

// Teleport moves the player into the arena at pos, transferring it between
// worlds when needed. If ctx expires before the player's world picked up the
// transfer, the player is left where it is.
func (g *Gateway) Teleport(ctx context.Context, playerID uuid.UUID, id parkour.ArenaID, pos mgl64.Vec3) error {
	w, ok := g.Arena(id)
	if !ok {
		return fmt.Errorf("teleport: no such arena %s", id)
	}
	g.mu.RLock()
	h, ok := g.players[playerID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("teleport: player %s is not online", playerID)
	}
	return g.enter(ctx, w, h, pos)
}

// SafeSpawn returns the centre of the arena's spawn block.
func (g *Gateway) SafeSpawn(_ context.Context, id parkour.ArenaID) (mgl64.Vec3, error) {
	w, ok := g.Arena(id)
	if !ok {
		return mgl64.Vec3{}, fmt.Errorf("safe spawn: no such arena %s", id)
	}
	return centre(w.Spawn()), nil
}

// Close destroys every remaining arena.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.RLock()
	ids := make([]parkour.ArenaID, 0, len(g.arenas))
	for id := range g.arenas {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := g.DestroyArena(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enter places the entity behind h in w at pos. An entity in another world
// is removed from it first and added to w outside of that transaction. Handles
// that are not in any world are added to w directly.
func (g *Gateway) enter(ctx context.Context, w *world.World, h *world.EntityHandle, pos mgl64.Vec3) error {
	var arrived bool
	err := execWorld(ctx, h, func(tx *world.Tx, e world.Entity) {
		if tx.World() == w {
			teleport(e, pos)
			arrived = true
			return
		}
		tx.RemoveEntity(e)
	})
	if err != nil && !errors.Is(err, errNotInWorld) {
		return err
	}
	if arrived {
		return nil
	}
	return await(ctx, w.Exec(func(tx *world.Tx) {
		teleport(tx.AddEntity(h), pos)
	}))
}

func teleport(e world.Entity, pos mgl64.Vec3) {
	if p, ok := e.(*player.Player); ok {
		p.Teleport(pos)
	}
}

// execWorld runs fn in the world of the entity behind h, giving up when ctx
// expires. Once execWorld gave up, fn is never run; once fn started,
// execWorld waits for it.
func execWorld(ctx context.Context, h *world.EntityHandle, fn func(tx *world.Tx, e world.Entity)) error {
	var job abandonable
	done := make(chan bool, 1)
	go func() {
		done <- h.ExecWorld(func(tx *world.Tx, e world.Entity) {
			if job.start() {
				fn(tx, e)
			}
		})
	}()
	select {
	case ok := <-done:
		if !ok {
			return errNotInWorld
		}
		return nil
	case <-ctx.Done():
		if job.abandon() {
			return ctx.Err()
		}
		// fn is running and finishes within its transaction.
		if !<-done {
			return errNotInWorld
		}
		return nil
	}
}

// abandonable decides between a job starting and its caller giving up.
type abandonable struct {
	state atomic.Int32
}

func (a *abandonable) start() bool {
	return a.state.CompareAndSwap(0, 1)
}

func (a *abandonable) abandon() bool {
	return a.state.CompareAndSwap(0, 2)
}

// await waits for a world transaction to finish.
func await(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveBlock returns the block registered under name, or grass when the
// name is unknown.
func resolveBlock(name parkour.BlockType) world.Block {
	if b, ok := world.BlockByName(string(name), nil); ok {
		return b
	}
	return block.Grass{}
}

func centre(pos cube.Pos) mgl64.Vec3 {
	return mgl64.Vec3{float64(pos.X()) + 0.5, float64(pos.Y()), float64(pos.Z()) + 0.5}
}
