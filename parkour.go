// Package parkour provides an endless procedural parkour engine for voxel
// game servers.
//
// The engine owns per-player sessions, generates the track ahead of each
// player and classifies their movement, while every world mutation is
// delegated to the hosting server through a WorldGateway:
//   - Generator produces deterministic track segments from a seed
//   - SessionStore keeps one session per player behind per-player locks
//   - Tracker turns position updates into Advanced/Fell/NoChange events
//   - Controller consumes host events and drives the gateway
//   - Scheduler extends tracks on a fixed tick using a worker pool
//
// # Quick Start
//
//	ctrl, err := parkour.NewBuilder().
//	    Config(conf).
//	    Gateway(gw).
//	    Logger(log).
//	    Init()
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Shutdown(context.Background())
//
//	reply, err := ctrl.Handle(ctx, parkour.EventStart{Player: id, Name: name})
//
// The df subpackage implements the gateway, player handler and command on
// top of a Dragonfly server.
package parkour

// Version is the engine version.
const Version = "1.0.0"
