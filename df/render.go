package df

import (
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/player/scoreboard"
	"github.com/oriumgames/parkour"
	"github.com/sandertv/gophertunnel/minecraft/text"
)

// render shows a controller reply to the player. It must run inside the
// player's world transaction.
func render(p *player.Player, reply parkour.Reply) {
	for _, m := range reply.Messages {
		p.Message(messageText(m))
	}
	switch {
	case reply.Score != nil:
		p.SendScoreboard(scoreboardOf(*reply.Score))
	case reply.ClearScore:
		p.RemoveScoreboard()
	}
}

func messageText(m parkour.Message) string {
	switch m.Tone {
	case parkour.ToneSuccess:
		return text.Colourf("<green>%s</green>", m.Text)
	case parkour.ToneError:
		return text.Colourf("<red>%s</red>", m.Text)
	default:
		return text.Colourf("<yellow>%s</yellow>", m.Text)
	}
}

// scoreLines returns the sidebar lines of a score, top to bottom.
func scoreLines(s parkour.Score) []string {
	lines := []string{
		text.Colourf("<white>Distance:</white> <green>%d</green>", s.Distance),
		text.Colourf("<white>Best:</white> <aqua>%d</aqua>", s.Best),
		text.Colourf("<white>Player:</white> <yellow>%s</yellow>", s.Player),
	}
	if s.Goal != "" {
		lines = append(lines, text.Colourf("<white>Goal:</white> <grey>%s</grey>", s.Goal))
	}
	return lines
}

func scoreboardOf(s parkour.Score) *scoreboard.Scoreboard {
	sb := scoreboard.New(text.Colourf("<bold><gold>%s</gold></bold>", s.Title))
	for i, line := range scoreLines(s) {
		sb.Set(i, line)
	}
	return sb
}
