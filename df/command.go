package df

import (
	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/oriumgames/parkour"
)

const (
	msgInGameOnly = "This command can only be used in-game."
	msgBusy       = "Parkour is busy, try again in a moment."
)

// Command returns the /parkour command. Without arguments it starts a new run;
// "/parkour stop" ends the current one.
func Command() cmd.Command {
	return cmd.New("parkour", "Start an endless parkour run.", []string{"pk"}, Start{}, Stop{})
}

// Start starts a new run, replacing the current one.
type Start struct{}

// Run queues the start on the player's handler.
func (Start) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p, h := handlerOf(src)
	if p == nil || h == nil {
		o.Error(msgInGameOnly)
		return
	}
	if !h.Post(parkour.EventStart{Player: p.UUID(), Name: p.Name()}) {
		o.Error(msgBusy)
	}
}

// Stop ends the current run.
type Stop struct {
	Sub cmd.SubCommand `cmd:"stop"`
}

// Run queues the stop on the player's handler.
func (Stop) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	p, h := handlerOf(src)
	if p == nil || h == nil {
		o.Error(msgInGameOnly)
		return
	}
	if !h.Active() {
		o.Error("You are not running the parkour.")
		return
	}
	if !h.Post(parkour.EventStop{Player: p.UUID()}) {
		o.Error(msgBusy)
		return
	}
	o.Print("Parkour stopped.")
}

// handlerOf extracts the player and its parkour handler from a command source.
// It returns (nil, nil) if the source is not a player.
func handlerOf(src cmd.Source) (*player.Player, *Handler) {
	p, ok := src.(*player.Player)
	if !ok {
		return nil, nil
	}
	h, _ := p.Handler().(*Handler)
	return p, h
}
