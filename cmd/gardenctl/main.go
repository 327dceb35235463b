package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"postgarden/internal/app"
	"postgarden/internal/config"
	"postgarden/internal/domain"
)

const usage = `Usage: gardenctl [-config path] <command>

Commands:
  sync                     Run a sync pass now
  show <channel>           List the installed items of a channel
  fav add <channel> <rank> Save an item to favorites
  fav rm <channel> <rank>  Remove an item from favorites
  fav ls                   List favorites
  visit <title> <url>      Record a visited item
  history                  List read history
  history clear            Delete read history
  archives                 List kept archive files
  purge                    Delete archive files past retention
  journal                  Show recent sync passes (requires database)
  journal pass <id>        Show the channel attempts of one pass
  journal channel <name>   Show the journaled state of one channel
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(*verbose, cfg.LogLevel)

	rt, err := app.Build(cfg, afero.NewOsFs(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, rt, cfg, args, os.Stdout)
	cancel()
	_ = rt.Close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, rt *app.Runtime, cfg *config.Config, args []string, out io.Writer) error {
	g := rt.Garden
	switch args[0] {
	case "sync":
		syncCtx, cancel := context.WithTimeout(ctx, cfg.Sync.PassTimeout)
		defer cancel()
		changed, reason := g.TriggerSync(syncCtx)
		switch {
		case reason != "":
			fmt.Fprintf(out, "sync incomplete: %s\n", reason)
			if !changed {
				return fmt.Errorf("%s", reason)
			}
		case changed:
			fmt.Fprintln(out, "content updated")
		default:
			fmt.Fprintln(out, "already up to date")
		}
		return nil

	case "show":
		if len(args) != 2 {
			return fmt.Errorf("usage: show <channel>")
		}
		snap, err := g.GetSnapshot(args[1])
		if err != nil {
			return err
		}
		printSnapshot(out, snap)
		return nil

	case "fav":
		return runFavorites(ctx, g, args[1:], out)

	case "visit":
		if len(args) != 3 {
			return fmt.Errorf("usage: visit <title> <url>")
		}
		return g.RecordVisit(args[1], args[2])

	case "history":
		if len(args) == 2 && args[1] == "clear" {
			return g.ClearHistory()
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, e := range g.GetHistory() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", humanize.Time(e.VisitedAt), e.Title, e.URL)
		}
		return w.Flush()

	case "archives":
		archives, err := rt.Cache.ListArchives()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, a := range archives {
			fmt.Fprintf(w, "%s\t%s\t%s\n", a.Name, humanize.Bytes(uint64(a.Size)), humanize.Time(a.ModTime))
		}
		return w.Flush()

	case "purge":
		n := rt.Cache.Purge(time.Now())
		fmt.Fprintf(out, "removed %d archive(s) older than %s\n", n, cfg.Cache.Retention)
		return nil

	case "journal":
		if rt.Journal == nil {
			return fmt.Errorf("database.enabled is false")
		}
		return runJournal(ctx, rt, args[1:], out)

	default:
		return fmt.Errorf("unknown command")
	}
}

func runFavorites(ctx context.Context, g *app.Garden, args []string, out io.Writer) error {
	if len(args) == 1 && args[0] == "ls" {
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, f := range g.Favorites() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", humanize.Time(f.SavedAt), f.Title, f.SourceURL)
		}
		return w.Flush()
	}
	if len(args) != 3 || (args[0] != "add" && args[0] != "rm") {
		return fmt.Errorf("usage: fav add|rm <channel> <rank> | fav ls")
	}

	item, err := findItem(g, args[1], args[2])
	if err != nil {
		return err
	}
	var changed bool
	if args[0] == "add" {
		changed, err = g.AddFavorite(ctx, item)
	} else {
		changed, err = g.RemoveFavorite(ctx, item)
	}
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintln(out, "unchanged")
		return nil
	}
	fmt.Fprintf(out, "favorite=%t %s\n", args[0] == "add", item.Title)
	return nil
}

func runJournal(ctx context.Context, rt *app.Runtime, args []string, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	switch {
	case len(args) == 0:
		passes, err := rt.Journal.RecentPasses(ctx, 20)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tSTARTED\tSTALE\tINSTALLED\tFAILED\tCOMMITTED\tREASON")
		for _, p := range passes {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%t\t%s\n",
				p.ID, humanize.Time(p.StartedAt), p.Stale, p.Installed, p.Failed, p.Committed, p.Reason)
		}
		states, err := rt.Journal.Channels(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "\nCHANNEL\tIDENTIFIER\tINSTALLS\tLAST ERROR")
		for _, st := range states {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", st.Channel, st.Identifier, st.TotalInstalls, st.LastError)
		}

	case len(args) == 2 && args[0] == "pass":
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid pass id %q", args[1])
		}
		installs, err := rt.Journal.PassInstalls(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "CHANNEL\tIDENTIFIER\tOK\tDURATION\tERROR")
		for _, r := range installs {
			fmt.Fprintf(w, "%s\t%s\t%t\t%dms\t%s\n", r.Channel, r.Identifier, r.Success, r.DurationMs, r.Error)
		}

	case len(args) == 2 && args[0] == "channel":
		c, err := domain.ParseChannel(args[1], rt.Garden.Channels())
		if err != nil {
			return err
		}
		st, err := rt.Journal.Channel(ctx, c.String())
		if err != nil {
			return err
		}
		installed := "never"
		if st.LastInstalledAt != nil {
			installed = humanize.Time(*st.LastInstalledAt)
		}
		fmt.Fprintf(w, "channel\t%s\n", st.Channel)
		fmt.Fprintf(w, "identifier\t%s\n", st.Identifier)
		fmt.Fprintf(w, "installed\t%s\n", installed)
		fmt.Fprintf(w, "installs\t%d\n", st.TotalInstalls)
		fmt.Fprintf(w, "last error\t%s\n", st.LastError)

	default:
		return fmt.Errorf("usage: journal [pass <id> | channel <name>]")
	}
	return w.Flush()
}

func findItem(g *app.Garden, channel, rank string) (domain.ContentItem, error) {
	r, err := strconv.Atoi(rank)
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("invalid rank %q", rank)
	}
	snap, err := g.GetSnapshot(channel)
	if err != nil {
		return domain.ContentItem{}, err
	}
	for _, it := range snap.Items {
		if it.Rank == r {
			return it, nil
		}
	}
	return domain.ContentItem{}, fmt.Errorf("no item with rank %d in %s", r, channel)
}

func printSnapshot(out io.Writer, snap domain.Snapshot) {
	if snap.IsEmpty() {
		fmt.Fprintf(out, "%s: nothing installed\n", snap.Channel)
		return
	}
	fmt.Fprintf(out, "%s  %s  %s\n\n", snap.Channel, snap.Identifier, snap.Timestamp)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, it := range snap.Items {
		rank := strconv.Itoa(it.Rank)
		if it.IsHeadline() {
			rank = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rank, it.Title, it.SourcePlatform, it.SourceURL)
	}
	_ = w.Flush()
}

func setupLogger(verbose bool, level string) *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
