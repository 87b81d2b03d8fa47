package parkour

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Controller is the central parkour coordinator. It consumes host events,
// keeps sessions in its SessionStore and drives the WorldGateway.
//
// Concurrency:
// Handle may be called concurrently for different players. Events for the
// same player must be delivered in arrival order; the store serializes their
// effects. A gateway failure for one player never affects another.
type Controller struct {
	conf    Config
	store   *SessionStore
	gen     *Generator
	tracker *Tracker
	gateway WorldGateway
	log     *slog.Logger

	// seeds returns the track seed of a new session.
	seeds func() int64
	now   func() time.Time

	// scheduler extends tracks on every tick. Nil until Init starts it.
	scheduler *Scheduler
	closeOnce sync.Once
}

// Store returns the session store of the controller.
func (c *Controller) Store() *SessionStore {
	return c.store
}

// Config returns the configuration the controller runs with.
func (c *Controller) Config() Config {
	return c.conf
}

// Session returns a snapshot of the player's session.
func (c *Controller) Session(id uuid.UUID) (Session, error) {
	return c.store.Get(id)
}

// Active reports whether the player has a running session.
func (c *Controller) Active(id uuid.UUID) bool {
	_, err := c.store.Get(id)
	return err == nil
}

// Handle applies a host event and returns what the host should show the
// player.
func (c *Controller) Handle(ctx context.Context, ev Event) (Reply, error) {
	switch e := ev.(type) {
	case EventJoin:
		if !c.conf.AutoStart {
			return Reply{}, nil
		}
		return c.Start(ctx, e.Player, e.Name)
	case EventStart:
		return c.Start(ctx, e.Player, e.Name)
	case EventMove:
		return c.Move(ctx, e.Player, e.Position)
	case EventStop:
		return c.Stop(ctx, e.Player)
	case EventQuit:
		return c.Stop(ctx, e.Player)
	default:
		return Reply{}, invalidf("unknown event %T", ev)
	}
}

// Start begins a new run for the player, tearing down the current one first.
// It creates the arena, generates the initial track and teleports the player
// to the spawn.
func (c *Controller) Start(ctx context.Context, id uuid.UUID, name string) (Reply, error) {
	var reply Reply

	if old, err := c.store.Remove(id); err == nil {
		c.log.Info("parkour: resetting session", "player", id, "arena", old.ArenaID)
		_ = c.destroy(ctx, old)
	}

	s := Session{
		PlayerID:  id,
		Name:      name,
		Seed:      c.seeds(),
		StartedAt: c.now(),
	}

	tpl := Template{
		Name:     arenaName(id, name),
		Spawn:    c.conf.Platform(),
		Platform: c.conf.PlatformBlock,
	}
	err := c.retry(ctx, "create arena", s, func(ctx context.Context) error {
		arena, err := c.gateway.CreateArena(ctx, tpl)
		s.ArenaID = arena
		return err
	})
	if err != nil {
		reply.say(ToneError, "Parkour is unavailable right now, try again later.")
		return reply, fmt.Errorf("start: %w", err)
	}
	s.Arena.ID = s.ArenaID

	err = c.retry(ctx, "locate spawn", s, func(ctx context.Context) error {
		spawn, err := c.gateway.SafeSpawn(ctx, s.ArenaID)
		s.Spawn = spawn
		return err
	})
	if err != nil {
		_ = c.destroy(ctx, s)
		reply.say(ToneError, "Parkour is unavailable right now, try again later.")
		return reply, fmt.Errorf("start: %w", err)
	}

	// The platform sits under the spawn and the track continues from it.
	platform := cube.Pos{
		int(math.Floor(s.Spawn.X())),
		int(math.Floor(s.Spawn.Y())) - 1,
		int(math.Floor(s.Spawn.Z())),
	}
	s.place(platform)
	s.CurrentDistance = min(s.CurrentDistance, s.FrontierX)

	_, extendErr := c.extend(ctx, &s, c.conf.InitialLength)
	if extendErr != nil && !errors.Is(extendErr, ErrWorldUnavailable) {
		_ = c.destroy(ctx, s)
		return reply, fmt.Errorf("start: %w", extendErr)
	}

	if _, err := c.store.Create(s); err != nil {
		// A concurrent start won the race; release what was built here.
		_ = c.destroy(ctx, s)
		return reply, fmt.Errorf("start: %w", err)
	}
	c.log.Info("parkour: session started", "player", id, "name", name, "arena", s.ArenaID, "frontier", s.FrontierX)

	reply.say(ToneSuccess, "Starting InfinityParkour!")
	if extendErr != nil {
		reply.say(ToneError, "The track could not be built, it will be retried shortly.")
	}
	if err := c.teleport(ctx, s); err != nil {
		reply.say(ToneError, "Could not move you to the parkour arena, use the command again.")
		reply.Score = c.score(s)
		return reply, err
	}
	reply.Score = c.score(s)
	return reply, extendErr
}

// Move applies a position update of the player. Players without a session
// are ignored.
func (c *Controller) Move(ctx context.Context, id uuid.UUID, pos mgl64.Vec3) (Reply, error) {
	var (
		reply     Reply
		extendErr error
	)

	s, err := c.store.Update(id, func(s *Session) error {
		reply.Progress = c.tracker.Classify(*s, pos)
		switch reply.Progress.Kind {
		case Fell:
			s.CurrentDistance = min(0, s.FrontierX)
			s.Falls++
		case Advanced:
			s.CurrentDistance = reply.Progress.Distance
			s.BestDistance = max(s.BestDistance, s.CurrentDistance)
			if c.nearFrontier(*s) {
				_, extendErr = c.extend(ctx, s, c.conf.SegmentLength)
			}
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return Reply{}, nil
	}
	if err != nil {
		return reply, fmt.Errorf("move: %w", err)
	}

	switch reply.Progress.Kind {
	case Fell:
		reply.say(ToneError, "You fell! Try again.")
		reply.Score = c.score(s)
		if err := c.teleport(ctx, s); err != nil {
			return reply, err
		}
	case Advanced:
		reply.Score = c.score(s)
		if extendErr != nil {
			reply.say(ToneError, "The track could not be extended, it will be retried shortly.")
			return reply, fmt.Errorf("move: %w", extendErr)
		}
	}
	return reply, nil
}

// Stop ends the player's run and releases its arena. Players without a
// session are ignored.
func (c *Controller) Stop(ctx context.Context, id uuid.UUID) (Reply, error) {
	s, err := c.store.Remove(id)
	if errors.Is(err, ErrNotFound) {
		return Reply{}, nil
	}
	if err != nil {
		return Reply{}, fmt.Errorf("stop: %w", err)
	}

	reply := Reply{ClearScore: true}
	if err := c.destroy(ctx, s); err != nil {
		return reply, fmt.Errorf("stop: %w", err)
	}
	c.log.Info("parkour: session ended", "player", id, "arena", s.ArenaID, "best", s.BestDistance, "falls", s.Falls)
	return reply, nil
}

// Tick extends the track of every session whose player is within the
// lookahead margin of its frontier. Sessions are processed in parallel on
// the scheduler's worker pool when one is running. Sessions busy with an
// event of their player are skipped until the next tick.
func (c *Controller) Tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range c.store.All() {
		if !c.nearFrontier(s) {
			continue
		}
		id := s.PlayerID
		wg.Add(1)
		c.submit(func() {
			defer wg.Done()
			c.tickSession(ctx, id)
		})
	}
	wg.Wait()
}

func (c *Controller) tickSession(ctx context.Context, id uuid.UUID) {
	var extendErr error
	_, err := c.store.tryUpdate(id, func(s *Session) error {
		if !c.nearFrontier(*s) {
			return nil
		}
		_, extendErr = c.extend(ctx, s, c.conf.SegmentLength)
		return nil
	})
	if errors.Is(err, errBusy) {
		// The player's own event is running and extends the track itself.
		c.log.Debug("parkour: tick skipped busy session", "player", id)
		return
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.log.Warn("parkour: tick failed", "player", id, "error", err)
	}
	if extendErr != nil {
		c.log.Warn("parkour: tick could not extend track", "player", id, "error", extendErr)
	}
}

// Shutdown stops the scheduler and tears down every session concurrently.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.scheduler != nil {
			c.scheduler.Stop()
		}
	})

	var g errgroup.Group
	g.SetLimit(shutdownParallelism)
	for _, id := range c.store.IDs() {
		g.Go(func() error {
			_, err := c.Stop(ctx, id)
			return err
		})
	}
	return g.Wait()
}

// shutdownParallelism bounds the number of arenas destroyed at once.
const shutdownParallelism = 8

// nearFrontier reports whether the track must grow before the player reaches
// its end.
func (c *Controller) nearFrontier(s Session) bool {
	return s.Remaining() <= c.conf.LookaheadMargin
}

// extend generates and places up to length blocks after the session's tail.
// On a gateway failure it retries once with half the length. Blocks placed
// before a failure stay recorded in the session.
func (c *Controller) extend(ctx context.Context, s *Session, length int) (int, error) {
	placed, err := c.materialize(ctx, s, length)
	if err == nil {
		return placed, nil
	}
	if errors.Is(err, ErrInvalidParameters) {
		return placed, err
	}

	retryLength := max(length/2, 1)
	c.log.Warn("parkour: placing track failed, retrying with a shorter segment",
		"player", s.PlayerID, "arena", s.ArenaID, "length", length, "retry_length", retryLength, "error", err)

	n, err := c.materialize(ctx, s, retryLength)
	placed += n
	if err != nil {
		if errors.Is(err, ErrInvalidParameters) {
			return placed, err
		}
		c.log.Error("parkour: placing track failed", "player", s.PlayerID, "arena", s.ArenaID, "error", err)
		return placed, fmt.Errorf("place track: %w: %w", ErrWorldUnavailable, err)
	}
	return placed, nil
}

// materialize generates one segment and places it block by block.
func (c *Controller) materialize(ctx context.Context, s *Session, length int) (int, error) {
	seg, err := c.gen.Generate(s.Seed, s.Tail, length)
	if err != nil {
		return 0, err
	}
	for i, pos := range seg.Blocks {
		err := c.call(ctx, func(ctx context.Context) error {
			return c.gateway.PlaceBlock(ctx, s.ArenaID, pos, c.conf.Block)
		})
		if err != nil {
			return i, err
		}
		s.place(pos)
	}
	s.Segments++
	return seg.Len(), nil
}

// teleport sends the player to the session's spawn.
func (c *Controller) teleport(ctx context.Context, s Session) error {
	return c.retry(ctx, "teleport", s, func(ctx context.Context) error {
		return c.gateway.Teleport(ctx, s.PlayerID, s.ArenaID, s.Spawn)
	})
}

// destroy releases the session's arena. Failures are logged and returned.
func (c *Controller) destroy(ctx context.Context, s Session) error {
	if s.ArenaID == "" {
		return nil
	}
	return c.retry(ctx, "destroy arena", s, func(ctx context.Context) error {
		return c.gateway.DestroyArena(ctx, s.ArenaID)
	})
}

// retry runs a gateway operation, retrying it once on failure.
func (c *Controller) retry(ctx context.Context, op string, s Session, fn func(ctx context.Context) error) error {
	err := c.call(ctx, fn)
	if err == nil {
		return nil
	}
	c.log.Warn("parkour: gateway call failed, retrying", "op", op, "player", s.PlayerID, "arena", s.ArenaID, "error", err)

	if err = c.call(ctx, fn); err != nil {
		c.log.Error("parkour: gateway call failed", "op", op, "player", s.PlayerID, "arena", s.ArenaID, "error", err)
		return fmt.Errorf("%s: %w: %w", op, ErrWorldUnavailable, err)
	}
	return nil
}

// call runs fn bounded by the gateway timeout.
func (c *Controller) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.conf.GatewayTimeout)
	defer cancel()
	return fn(ctx)
}

// submit runs job on the scheduler's worker pool, or inline without one.
func (c *Controller) submit(job func()) {
	if c.scheduler == nil || !c.scheduler.submit(job) {
		job()
	}
}

func (c *Controller) score(s Session) *Score {
	return &Score{
		Title:    c.conf.ScoreboardTitle,
		Player:   s.Name,
		Distance: s.CurrentDistance,
		Best:     s.BestDistance,
		Goal:     c.conf.ScoreboardGoal,
	}
}

func arenaName(id uuid.UUID, name string) string {
	if name == "" {
		return "parkour_" + id.String()
	}
	return "parkour_" + name
}

// newSeed generates a track seed using crypto/rand.
func newSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}
