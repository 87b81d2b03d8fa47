package parkour

import (
	"math/rand/v2"

	"github.com/df-mc/dragonfly/server/block/cube"
)

// GeneratorConfig bounds the shape of generated track.
type GeneratorConfig struct {
	// MinAdvance and MaxAdvance bound the horizontal step between blocks, inclusive.
	MinAdvance, MaxAdvance int
	// MinRise and MaxRise bound the vertical step between blocks, inclusive.
	MinRise, MaxRise int
	// VerticalStepMax clamps the vertical step regardless of MinRise/MaxRise.
	VerticalStepMax int
	// FloorY and CeilingY bound the height of every generated block.
	FloorY, CeilingY int
}

func (c GeneratorConfig) validate() error {
	switch {
	case c.MinAdvance < 1:
		return invalidf("min_advance must be at least 1, got %d", c.MinAdvance)
	case c.MaxAdvance < c.MinAdvance:
		return invalidf("max_advance=%d is below min_advance=%d", c.MaxAdvance, c.MinAdvance)
	case c.MaxRise < c.MinRise:
		return invalidf("max_rise=%d is below min_rise=%d", c.MaxRise, c.MinRise)
	case c.VerticalStepMax < 0:
		return invalidf("vertical_step_max must not be negative, got %d", c.VerticalStepMax)
	case c.CeilingY < c.FloorY:
		return invalidf("ceiling_y=%d is below floor y=%d", c.CeilingY, c.FloorY)
	}
	return nil
}

// Segment is a generated run of platform blocks. It is never modified after
// Generate returns it.
type Segment struct {
	// Start is the block the segment continues from. It is not part of Blocks.
	Start cube.Pos
	// Blocks holds the platform positions in the order a player reaches them.
	Blocks []cube.Pos
	// End is the last block of the segment.
	End cube.Pos
}

// Len returns the number of blocks in the segment.
func (s Segment) Len() int {
	return len(s.Blocks)
}

// Generator produces track segments. It holds no mutable state and is safe
// for concurrent use.
type Generator struct {
	conf GeneratorConfig
}

// NewGenerator creates a generator, failing with ErrInvalidParameters when
// conf cannot produce a track.
func NewGenerator(conf GeneratorConfig) (*Generator, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &Generator{conf: conf}, nil
}

// Config returns the parameters the generator was created with.
func (g *Generator) Config() GeneratorConfig {
	return g.conf
}

// Generate produces length blocks continuing from the block at from. The
// result depends only on seed, from and length.
func (g *Generator) Generate(seed int64, from cube.Pos, length int) (Segment, error) {
	switch {
	case length <= 0:
		return Segment{}, invalidf("segment length must be positive, got %d", length)
	case from.Y() < g.conf.FloorY:
		return Segment{}, invalidf("start y=%d is below floor y=%d", from.Y(), g.conf.FloorY)
	case from.Y() > g.conf.CeilingY:
		return Segment{}, invalidf("start y=%d is above ceiling y=%d", from.Y(), g.conf.CeilingY)
	}

	r := rand.New(rand.NewPCG(uint64(seed), hashPos(seed, from)))
	seg := Segment{
		Start:  from,
		Blocks: make([]cube.Pos, 0, length),
	}

	prev := from
	for range length {
		dx := between(r, g.conf.MinAdvance, g.conf.MaxAdvance)
		dy := clamp(between(r, g.conf.MinRise, g.conf.MaxRise), -g.conf.VerticalStepMax, g.conf.VerticalStepMax)
		next := cube.Pos{
			prev.X() + dx,
			clamp(prev.Y()+dy, g.conf.FloorY, g.conf.CeilingY),
			prev.Z(),
		}
		seg.Blocks = append(seg.Blocks, next)
		prev = next
	}
	seg.End = prev
	return seg, nil
}

// between returns a uniform value in [lo, hi].
func between(r *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.IntN(hi-lo+1)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// hashPos mixes a seed with a block position so segments continuing from
// different blocks draw different sequences.
func hashPos(seed int64, pos cube.Pos) uint64 {
	ux := uint64(uint32(int32(pos.X())))
	uy := uint64(uint32(int32(pos.Y())))
	uz := uint64(uint32(int32(pos.Z())))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
