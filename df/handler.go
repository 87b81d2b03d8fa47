package df

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/entity"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/oriumgames/parkour"
)

// inboxSize is the number of events buffered per player.
const inboxSize = 64

// Handler feeds the events of one player into the controller.
//
// Concurrency:
// Dragonfly calls handler methods inside the player's world transaction,
// while the controller talks to worlds through the gateway. Events are
// therefore queued and applied by a goroutine owned by the handler, one at a
// time and in arrival order. Replies are rendered back inside the player's
// world.
type Handler struct {
	player.NopHandler

	controller *parkour.Controller
	gateway    *Gateway
	log        *slog.Logger

	id     uuid.UUID
	name   string
	handle *world.EntityHandle

	// active mirrors whether the player has a running session.
	active atomic.Bool

	mu     sync.Mutex
	closed bool
	inbox  chan parkour.Event
	// move is the newest position not yet applied. At most one EventMove
	// sits in the inbox; it is resolved to move when dequeued.
	move        mgl64.Vec3
	movePending bool
}

var _ player.Handler = (*Handler)(nil)

// NewHandler creates the handler of p and starts its event loop. The handler
// must be attached with p.Handle.
func NewHandler(c *parkour.Controller, gw *Gateway, p *player.Player, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		controller: c,
		gateway:    gw,
		log:        log,
		id:         p.UUID(),
		name:       p.Name(),
		handle:     p.H(),
		inbox:      make(chan parkour.Event, inboxSize),
	}
	gw.Track(p)
	go h.loop()

	h.Post(parkour.EventJoin{Player: h.id, Name: h.name})
	return h
}

// Active reports whether the player is running the parkour.
func (h *Handler) Active() bool {
	return h.active.Load()
}

// Post queues an event for the player. It returns false if the player left
// or the queue is full.
func (h *Handler) Post(ev parkour.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	select {
	case h.inbox <- ev:
		return true
	default:
		return false
	}
}

// HandleMove reports the new position of a playing player. Moves that arrive
// while one is still queued replace its position.
func (h *Handler) HandleMove(_ *player.Context, newPos mgl64.Vec3, _ cube.Rotation) {
	if !h.active.Load() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.movePending {
		h.move = newPos
		return
	}
	select {
	case h.inbox <- parkour.EventMove{Player: h.id}:
		h.move, h.movePending = newPos, true
	default:
		h.log.Warn("parkour: event queue full, dropped move", "player", h.id, "pos", newPos)
	}
}

// resolve fills a queued move with the newest position.
func (h *Handler) resolve(ev parkour.Event) parkour.Event {
	if _, ok := ev.(parkour.EventMove); !ok {
		return ev
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.movePending = false
	return parkour.EventMove{Player: h.id, Position: h.move}
}

// HandleHurt cancels fall and void damage during a run.
func (h *Handler) HandleHurt(ctx *player.Context, _ *float64, _ bool, _ *time.Duration, src world.DamageSource) {
	if !h.active.Load() {
		return
	}
	switch src.(type) {
	case entity.FallDamageSource, entity.VoidDamageSource:
		ctx.Cancel()
	}
}

// HandleBlockBreak keeps the track intact.
func (h *Handler) HandleBlockBreak(ctx *player.Context, _ cube.Pos, _ *[]item.Stack, _ *int) {
	if h.active.Load() {
		ctx.Cancel()
	}
}

// HandleBlockPlace keeps the arena free of player blocks.
func (h *Handler) HandleBlockPlace(ctx *player.Context, _ cube.Pos, _ world.Block) {
	if h.active.Load() {
		ctx.Cancel()
	}
}

// HandleQuit ends the player's run once the queued events are applied.
func (h *Handler) HandleQuit(*player.Player) {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		close(h.inbox)
	}
	h.mu.Unlock()
}

// loop applies queued events until the player quits.
func (h *Handler) loop() {
	for ev := range h.inbox {
		h.apply(h.resolve(ev))
	}
	h.apply(parkour.EventQuit{Player: h.id})
	h.gateway.Forget(h.id)
}

func (h *Handler) apply(ev parkour.Event) {
	reply, err := h.controller.Handle(context.Background(), ev)
	h.active.Store(h.controller.Active(h.id))
	if err != nil {
		h.log.Warn("parkour: event failed", "player", h.id, "event", eventName(ev), "error", err)
	}
	if _, quit := ev.(parkour.EventQuit); quit {
		return
	}
	if len(reply.Messages) == 0 && reply.Score == nil && !reply.ClearScore {
		return
	}
	h.handle.ExecWorld(func(_ *world.Tx, e world.Entity) {
		if p, ok := e.(*player.Player); ok {
			render(p, reply)
		}
	})
}

func eventName(ev parkour.Event) string {
	switch ev.(type) {
	case parkour.EventJoin:
		return "join"
	case parkour.EventQuit:
		return "quit"
	case parkour.EventMove:
		return "move"
	case parkour.EventStart:
		return "start"
	case parkour.EventStop:
		return "stop"
	default:
		return "unknown"
	}
}
