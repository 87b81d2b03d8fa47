package parkour

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/df-mc/dragonfly/server/block/cube"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig.
const EnvPrefix = "PARKOUR_"

// Config holds every tunable of the engine. It is loaded from a YAML file and
// then overridden from the environment.
type Config struct {
	// SegmentLength is the number of blocks generated each time the track is
	// extended.
	SegmentLength int `yaml:"segment_length" env:"SEGMENT_LENGTH"`
	// InitialLength is the number of blocks generated when a session starts.
	InitialLength int `yaml:"initial_length" env:"INITIAL_LENGTH"`
	// LookaheadMargin is the distance from the frontier at which the track is
	// extended.
	LookaheadMargin int `yaml:"lookahead_margin" env:"LOOKAHEAD_MARGIN"`
	// FailFloorY is the height below which a player counts as fallen. It is
	// also the lowest height a track block may be generated at.
	FailFloorY int `yaml:"fail_floor_y" env:"FAIL_FLOOR_Y"`
	// CeilingY is the highest height a track block may be generated at.
	CeilingY int `yaml:"ceiling_y" env:"CEILING_Y"`
	// VerticalStepMax bounds the height difference of consecutive blocks.
	VerticalStepMax int `yaml:"vertical_step_max" env:"VERTICAL_STEP_MAX"`

	MinAdvance int `yaml:"min_advance" env:"MIN_ADVANCE"`
	MaxAdvance int `yaml:"max_advance" env:"MAX_ADVANCE"`
	MinRise    int `yaml:"min_rise" env:"MIN_RISE"`
	MaxRise    int `yaml:"max_rise" env:"MAX_RISE"`

	// SpawnX, SpawnY and SpawnZ locate the spawn platform inside each arena.
	SpawnX int `yaml:"spawn_x" env:"SPAWN_X"`
	SpawnY int `yaml:"spawn_y" env:"SPAWN_Y"`
	SpawnZ int `yaml:"spawn_z" env:"SPAWN_Z"`

	Block         BlockType `yaml:"block" env:"BLOCK"`
	PlatformBlock BlockType `yaml:"platform_block" env:"PLATFORM_BLOCK"`

	ScoreboardTitle string `yaml:"scoreboard_title" env:"SCOREBOARD_TITLE"`
	ScoreboardGoal  string `yaml:"scoreboard_goal" env:"SCOREBOARD_GOAL"`

	// AutoStart starts a session as soon as a player joins.
	AutoStart bool `yaml:"auto_start" env:"AUTO_START"`

	TickInterval   time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	GatewayTimeout time.Duration `yaml:"gateway_timeout" env:"GATEWAY_TIMEOUT"`
}

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() Config {
	return Config{
		SegmentLength:   5,
		InitialLength:   12,
		LookaheadMargin: 16,
		FailFloorY:      0,
		CeilingY:        250,
		VerticalStepMax: 1,
		MinAdvance:      2,
		MaxAdvance:      4,
		MinRise:         -1,
		MaxRise:         1,
		SpawnX:          0,
		SpawnY:          64,
		SpawnZ:          0,
		Block:           "minecraft:grass_block",
		PlatformBlock:   "minecraft:gold_block",
		ScoreboardTitle: "Parkour",
		ScoreboardGoal:  "Reach the end!",
		AutoStart:       false,
		TickInterval:    time.Second,
		GatewayTimeout:  5 * time.Second,
	}
}

// LoadConfig reads the YAML file at path on top of DefaultConfig and applies
// PARKOUR_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return conf, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &conf); err != nil {
				return conf, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	if err := env.ParseWithOptions(&conf, env.Options{Prefix: EnvPrefix}); err != nil {
		return conf, fmt.Errorf("parse env: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

// Validate reports the first inconsistent option.
func (c Config) Validate() error {
	switch {
	case c.SegmentLength <= 0:
		return invalidf("segment_length must be positive, got %d", c.SegmentLength)
	case c.InitialLength <= 0:
		return invalidf("initial_length must be positive, got %d", c.InitialLength)
	case c.LookaheadMargin < 0:
		return invalidf("lookahead_margin must not be negative, got %d", c.LookaheadMargin)
	case c.SpawnY-1 < c.FailFloorY:
		return invalidf("spawn platform y=%d is below fail_floor_y=%d", c.SpawnY-1, c.FailFloorY)
	case c.CeilingY < c.SpawnY:
		return invalidf("ceiling_y=%d is below spawn_y=%d", c.CeilingY, c.SpawnY)
	case c.Block == "" || c.PlatformBlock == "":
		return invalidf("block and platform_block must be set")
	case c.TickInterval <= 0:
		return invalidf("tick_interval must be positive, got %s", c.TickInterval)
	case c.GatewayTimeout <= 0:
		return invalidf("gateway_timeout must be positive, got %s", c.GatewayTimeout)
	}
	return c.Generator().validate()
}

// Generator returns the track generator parameters described by c.
func (c Config) Generator() GeneratorConfig {
	return GeneratorConfig{
		MinAdvance:      c.MinAdvance,
		MaxAdvance:      c.MaxAdvance,
		MinRise:         c.MinRise,
		MaxRise:         c.MaxRise,
		VerticalStepMax: c.VerticalStepMax,
		FloorY:          c.FailFloorY,
		CeilingY:        c.CeilingY,
	}
}

// Platform returns the position of the spawn platform block.
func (c Config) Platform() cube.Pos {
	return cube.Pos{c.SpawnX, c.SpawnY - 1, c.SpawnZ}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}
