// Command parkour runs a Dragonfly server that hosts endless parkour runs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/df-mc/dragonfly/server"
	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/oriumgames/parkour"
	"github.com/oriumgames/parkour/df"
)

func main() {
	configPath := flag.String("config", "parkour.yaml", "path to the parkour configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, log); err != nil {
		log.Error("parkour: exiting", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, log *slog.Logger) error {
	conf, err := parkour.LoadConfig(configPath)
	if err != nil {
		return err
	}

	srvConf, err := server.DefaultConfig().Config(log)
	if err != nil {
		return err
	}
	srv := srvConf.New()
	srv.CloseOnProgramEnd()

	gw := df.NewGateway(srv.World(), log)
	c, err := parkour.NewBuilder().
		Config(conf).
		Gateway(gw).
		Logger(log).
		Init()
	if err != nil {
		return err
	}
	cmd.Register(df.Command())

	log.Info("parkour: server starting", "version", parkour.Version)
	srv.Listen()
	for p := range srv.Accept() {
		p.Handle(df.NewHandler(c, gw, p, log))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		log.Warn("parkour: shutdown incomplete", "error", err)
	}
	return gw.Close(ctx)
}
