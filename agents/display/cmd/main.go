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

	"dlevel-stack/agents/display"
	"dlevel-stack/agents/relay"
	"dlevel-stack/shared/config"
	"dlevel-stack/shared/logging"
	"dlevel-stack/shared/storage"
)

const usage = `usage: display <command> [flags]

commands:
  list   [-q query] [-bucket calm,balanced,energetic,electrifying] [-order asc|desc]
  watch  same flags as list, reprints on every change
  show   [-html] <video id>
  delete [-y] <video id>
  key    [new key]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

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
	d := display.New(client.Area(storage.AreaLocal))

	if err := run(ctx, d, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, d *display.Display, cmd string, args []string) error {
	switch cmd {
	case "list", "watch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		query := fs.String("q", "", "title search")
		buckets := fs.String("bucket", "", "comma separated D-Level buckets")
		order := fs.String("order", "asc", "sort order by D-Level: asc or desc")
		_ = fs.Parse(args)

		filter, err := buildFilter(*query, *buckets, *order)
		if err != nil {
			return err
		}
		if cmd == "watch" {
			return watch(ctx, d, filter)
		}
		entries, err := d.List(ctx)
		if err != nil {
			return err
		}
		return display.WriteTable(os.Stdout, display.Apply(entries, filter))

	case "show":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		asHTML := fs.Bool("html", false, "print HTML instead of text")
		_ = fs.Parse(args)
		if fs.NArg() != 1 {
			return errors.New("show needs a video id")
		}
		e, err := d.Get(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		if *asHTML {
			fmt.Println(display.DetailHTML(e.Record))
		} else {
			fmt.Println(display.DetailText(e.Record))
		}
		return nil

	case "delete":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		yes := fs.Bool("y", false, "do not ask for confirmation")
		_ = fs.Parse(args)
		if fs.NArg() != 1 {
			return errors.New("delete needs a video id")
		}
		confirm := askConfirm
		if *yes {
			confirm = func(string) bool { return true }
		}
		removed, err := d.Delete(ctx, fs.Arg(0), confirm)
		if err != nil {
			return err
		}
		if removed {
			fmt.Println("deleted", fs.Arg(0))
		}
		return nil

	case "key":
		if len(args) == 0 {
			key, err := d.Credential(ctx)
			if err != nil {
				return err
			}
			if key == "" {
				fmt.Println("no API key set")
			} else {
				fmt.Println("API key is set:", mask(key))
			}
			return nil
		}
		if err := d.SaveCredential(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("API Key saved successfully!")
		return nil
	}

	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func buildFilter(query, buckets, order string) (display.Filter, error) {
	f := display.Filter{Query: query, Order: display.SortOrder(order)}
	if f.Order != display.Ascending && f.Order != display.Descending {
		return f, fmt.Errorf("unknown order %q", order)
	}
	if buckets == "" {
		return f, nil
	}
	for _, name := range strings.Split(buckets, ",") {
		b, err := display.ParseBucket(name)
		if err != nil {
			return f, err
		}
		f.Buckets = append(f.Buckets, b)
	}
	return f, nil
}

func watch(ctx context.Context, d *display.Display, filter display.Filter) error {
	show := func(entries []display.Entry) {
		fmt.Println()
		if err := display.WriteTable(os.Stdout, display.Apply(entries, filter)); err != nil {
			slog.Error("failed to print analyses", slog.Any("error", err))
		}
	}

	entries, err := d.List(ctx)
	if err != nil {
		return err
	}
	show(entries)

	stop := d.Watch(ctx, show)
	defer stop()
	<-ctx.Done()
	return nil
}

func askConfirm(prompt string) bool {
	fmt.Printf("%s [y/N] ", prompt)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func mask(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
