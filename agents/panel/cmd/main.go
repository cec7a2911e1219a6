package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dlevel-stack/agents/panel"
	"dlevel-stack/agents/relay"
	"dlevel-stack/shared/ai"
	"dlevel-stack/shared/config"
	"dlevel-stack/shared/logging"
	"dlevel-stack/shared/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := relay.NewClient(cfg.Relay.BaseURL)
	defer client.Close()

	agent := panel.New(panel.Deps{
		Local:    client.Area(storage.AreaLocal),
		Session:  client.Area(storage.AreaSession),
		Model:    panel.FromLocalModel(ai.NewLocalModel(cfg.LocalModel)),
		Relay:    client,
		Renderer: panel.NewTerminalRenderer(os.Stdout),
	}, cfg.Panel, panel.WithProbeTimeout(cfg.LocalModel.ProbeTimeout))

	client.OnOpenSidePanel(func(tabID int) {
		slog.Info("panel opened", slog.Int("tab", tabID))
	})

	go readCommands(cancel, agent)

	slog.Info("panel agent started", slog.String("relay", cfg.Relay.BaseURL))
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("panel agent failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// readCommands maps stdin lines onto the panel controls.
func readCommands(stop context.CancelFunc, agent *panel.Agent) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "local":
			agent.StartLocalAnalysis()
		case "cloud":
			agent.StartCloudAnalysis()
		case "key":
			agent.SaveCredential(arg)
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Println("commands: local, cloud, key <value>, quit")
		}
	}
}
