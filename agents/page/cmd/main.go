package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dlevel-stack/agents/page"
	"dlevel-stack/agents/relay"
	"dlevel-stack/shared/config"
	"dlevel-stack/shared/logging"
)

func main() {
	url := flag.String("url", "", "watch page to open")
	tabID := flag.Int("tab", 1, "tab id reported to the relay")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logging.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := relay.NewClient(cfg.Relay.BaseURL, relay.WithInvalidateOnFailure())
	defer client.Close()

	p := page.NewHTTPPage(*url)
	agent := page.NewAgent(p, client, *tabID, cfg.Page, page.WithOnChange(func(aff page.Affordance) {
		if aff.ID == "" {
			fmt.Println("[no affordance]")
			return
		}
		fmt.Printf("[%s] %s (%s)\n", aff.State, aff.Label, aff.VideoID)
	}))

	go readCommands(ctx, cancel, p, agent)

	slog.Info("page agent started", slog.String("relay", cfg.Relay.BaseURL), slog.Int("tab", *tabID))
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("page agent failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// readCommands drives the page from stdin: "open <url>", "click", "quit".
func readCommands(ctx context.Context, stop context.CancelFunc, p *page.HTTPPage, agent *page.Agent) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "open":
			if len(fields) < 2 {
				fmt.Println("usage: open <url>")
				continue
			}
			p.Navigate(fields[1])
		case "click":
			if err := agent.Activate(ctx); err != nil {
				fmt.Println("error:", err)
			}
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Println("commands: open <url>, click, quit")
		}
	}
}
