package parkour

import (
	"context"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// ArenaID identifies an arena within the host.
type ArenaID string

// BlockType names a block in the host's registry, such as
// "minecraft:grass_block".
type BlockType string

// Template describes the arena to create.
type Template struct {
	// Name is a human readable arena name, unique among live arenas.
	Name string
	// Spawn is the position of the spawn platform block. Players spawn on top of it.
	Spawn cube.Pos
	// Platform is the block placed at Spawn.
	Platform BlockType
}

// WorldGateway is the capability surface of the hosting server. The
// controller bounds every call with a timeout and never holds a lock shared
// between players while calling it.
type WorldGateway interface {
	// CreateArena creates an isolated arena and places its spawn platform.
	CreateArena(ctx context.Context, tpl Template) (ArenaID, error)
	// DestroyArena releases the arena and every block placed in it.
	DestroyArena(ctx context.Context, id ArenaID) error
	// PlaceBlock sets the block at pos in the arena.
	PlaceBlock(ctx context.Context, id ArenaID, pos cube.Pos, b BlockType) error
	// Teleport moves the player into the arena at pos.
	Teleport(ctx context.Context, player uuid.UUID, id ArenaID, pos mgl64.Vec3) error
	// SafeSpawn returns the position a player can safely stand at in the arena.
	SafeSpawn(ctx context.Context, id ArenaID) (mgl64.Vec3, error)
}
