package parkour

import (
	"errors"
	"log/slog"
	"time"
)

// Builder configures the engine before initialization.
// Use NewBuilder() to create a builder and chain configuration methods.
type Builder struct {
	conf    Config
	gateway WorldGateway
	log     *slog.Logger
	seeds   func() int64
	now     func() time.Time
}

// NewBuilder creates a new builder using DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{conf: DefaultConfig()}
}

// Config replaces the configuration.
func (b *Builder) Config(conf Config) *Builder {
	b.conf = conf
	return b
}

// Gateway sets the host integration. It is required.
func (b *Builder) Gateway(gw WorldGateway) *Builder {
	b.gateway = gw
	return b
}

// Logger sets the logger. slog.Default() is used otherwise.
func (b *Builder) Logger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

// Seeds overrides the source of track seeds, which defaults to crypto/rand.
//
// Example:
//
//	builder.Seeds(func() int64 { return 42 })
func (b *Builder) Seeds(fn func() int64) *Builder {
	b.seeds = fn
	return b
}

// Clock overrides the time source used to stamp sessions.
func (b *Builder) Clock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Init validates the configuration, creates the controller and starts its
// scheduler. Call Controller.Shutdown to stop it.
func (b *Builder) Init() (*Controller, error) {
	if b.gateway == nil {
		return nil, errors.New("parkour: builder has no gateway")
	}
	if err := b.conf.Validate(); err != nil {
		return nil, err
	}
	gen, err := NewGenerator(b.conf.Generator())
	if err != nil {
		return nil, err
	}

	c := &Controller{
		conf:    b.conf,
		store:   NewSessionStore(),
		gen:     gen,
		tracker: NewTracker(b.conf.FailFloorY),
		gateway: b.gateway,
		log:     b.log,
		seeds:   b.seeds,
		now:     b.now,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.seeds == nil {
		c.seeds = newSeed
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.scheduler = newScheduler(c, b.conf.TickInterval)
	c.scheduler.Start()
	return c, nil
}
