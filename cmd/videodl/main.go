package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/myrenyang/VideoDownloader/config"
	"github.com/myrenyang/VideoDownloader/download"
	"github.com/myrenyang/VideoDownloader/logging"
	"github.com/myrenyang/VideoDownloader/model"
	"github.com/myrenyang/VideoDownloader/opml"
	"github.com/myrenyang/VideoDownloader/probe"
	"github.com/myrenyang/VideoDownloader/store"
	"github.com/myrenyang/VideoDownloader/sub"
	"github.com/myrenyang/VideoDownloader/ytdl"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitDataError    = 3
)

func main() {
	app := &cli.App{
		Name:    "videodl",
		Usage:   "Subscribe to channels and playlists and keep their content downloaded",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   getDefaultConfigPath(),
				Usage:   "Config file path",
				EnvVars: []string{"VIDEODL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "Owner ID for multi-user storage (empty for global)",
				EnvVars: []string{"VIDEODL_OWNER"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Subscribe to a channel or playlist",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Subscription name (resolved from the source when omitted)"},
					&cli.BoolFlag{Name: "audio", Aliases: []string{"a"}, Usage: "Download audio only"},
					&cli.BoolFlag{Name: "playlist", Aliases: []string{"p"}, Usage: "Treat the URL as a playlist"},
					&cli.StringFlag{Name: "quality", Aliases: []string{"q"}, Usage: "Maximum video height (e.g. 720) or 'best'"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Custom output template"},
					&cli.StringFlag{Name: "args", Usage: "Extra backend arguments, double-comma separated (e.g. '-f,,best')"},
					&cli.StringFlag{Name: "timerange", Aliases: []string{"t"}, Usage: "Only fetch items published after (YYYYMMDD or 7d, 2w, 3m, 1y)"},
					&cli.BoolFlag{Name: "paused", Usage: "Create the subscription without syncing"},
				},
				Action: addSubscription,
			},
			{
				Name:  "list",
				Usage: "List subscriptions",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Output JSON instead of a table"},
				},
				Action: listSubscriptions,
			},
			{
				Name:      "sync",
				Usage:     "Check subscriptions for new items and download them",
				ArgsUsage: "[name]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "Sync every unpaused subscription"},
				},
				Action: syncSubscriptions,
			},
			{
				Name:      "remove",
				Usage:     "Unsubscribe from a channel or playlist",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "delete-files", Usage: "Also delete downloaded content"},
				},
				Action: removeSubscription,
			},
			{
				Name:      "delete-file",
				Usage:     "Delete a downloaded file",
				ArgsUsage: "<file-uid>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "forever", Usage: "Never redownload this item"},
				},
				Action: deleteFile,
			},
			{
				Name:      "import",
				Usage:     "Import subscriptions from an OPML file",
				ArgsUsage: "<opml-file>",
				Action:    importOPML,
			},
			{
				Name:  "export",
				Usage: "Export subscriptions to OPML",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file (default: stdout)"},
				},
				Action: exportOPML,
			},
			{
				Name:      "reset",
				Usage:     "Clear a stale in-progress marker left by an interrupted sync",
				ArgsUsage: "[name]",
				Action:    resetDownloading,
			},
			{
				Name:   "serve",
				Usage:  "Run the periodic sync daemon",
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitGeneralError)
	}
}

func getDefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "videodl.toml"
	}
	return filepath.Join(home, ".config", "videodl", "videodl.toml")
}

// engine bundles the wired components every command needs.
type engine struct {
	cfg    *config.Config
	store  *store.Store
	queue  *download.Queue
	syncer *sub.Syncer
}

func newEngine(c *cli.Context) (*engine, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	client := ytdl.NewCLI(ytdl.WithBinary(cfg.Binary()), ytdl.WithLogger(logger))
	queue := download.NewQueue(cfg, st, client, logger)
	syncer := sub.NewSyncer(cfg, st, client, queue, logger)
	if cfg.FeedProbe {
		syncer.EnableFeedProbe(probe.New(logger))
	}

	return &engine{cfg: cfg, store: st, queue: queue, syncer: syncer}, nil
}

func (e *engine) close() {
	e.store.Close()
}

func outputJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// findSubscription resolves a name or ID argument against the owner's
// subscriptions.
func findSubscription(ctx context.Context, e *engine, nameOrID, ownerID string) (*model.Subscription, error) {
	subs, err := e.store.ListSubscriptions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if s.Name == nameOrID || s.ID == nameOrID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no subscription named %q", nameOrID)
}

func addSubscription(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: videodl add <url>", ExitUsageError)
	}

	e, err := newEngine(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer e.close()

	contentType := model.TypeVideo
	if c.Bool("audio") {
		contentType = model.TypeAudio
	}
	subscription := &model.Subscription{
		URL:          c.Args().Get(0),
		Name:         c.String("name"),
		IsPlaylist:   c.Bool("playlist"),
		Type:         contentType,
		MaxQuality:   c.String("quality"),
		CustomOutput: c.String("output"),
		CustomArgs:   c.String("args"),
		Timerange:    c.String("timerange"),
		OwnerID:      c.String("owner"),
		Paused:       c.Bool("paused"),
	}

	if err := e.syncer.Subscribe(c.Context, subscription); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to subscribe: %v", err), ExitDataError)
	}
	e.queue.Wait()

	return outputJSON(map[string]interface{}{
		"success":      true,
		"subscription": subscription,
	})
}

func listSubscriptions(c *cli.Context) error {
	e, err := newEngine(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer e.close()

	subs, err := e.store.ListSubscriptions(c.Context, c.String("owner"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to get subscriptions: %v", err), ExitDataError)
	}

	if c.Bool("json") {
		return outputJSON(subs)
	}

	headers := []string{"Name", "Kind", "Type", "Quality", "Files", "Status", "URL"}
	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		files, err := e.store.FilesBySubscription(c.Context, s.ID)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to count files: %v", err), ExitDataError)
		}

		kind := "channel"
		if s.IsPlaylist {
			kind = "playlist"
		}
		quality := s.MaxQuality
		if quality == "" {
			quality = "best"
		}
		status := "active"
		switch {
		case s.Downloading:
			status = "syncing"
		case s.Paused:
			status = "paused"
		}
		rows = append(rows, []string{
			s.Name, kind, string(s.Type), quality,
			fmt.Sprintf("%d", len(files)), status, s.URL,
		})
	}

	fmt.Println(renderTable(headers, rows, []columnAlignment{
		alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft,
	}))
	return nil
}

func syncSubscriptions(c *cli.Context) error {
	if c.NArg() < 1 && !c.Bool("all") {
		return cli.Exit("Usage: videodl sync <name> (or --all)", ExitUsageError)
	}

	e, err := newEngine(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer e.close()

	if c.Bool("all") {
		total, err := e.syncer.SyncAll(c.Context)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Sync failed: %v", err), ExitDataError)
		}
		e.queue.Wait()
		return outputJSON(map[string]interface{}{"success": true, "new_items": total})
	}

	subscription, err := findSubscription(c.Context, e, c.Args().Get(0), c.String("owner"))
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	result, err := e.syncer.Sync(c.Context, subscription.ID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Sync failed: %v", err), ExitDataError)
	}
	e.queue.Wait()

	return outputJSON(map[string]interface{}{
		"success":         true,
		"new_items":       len(result.Accepted),
		"already_running": result.AlreadyRunning,
	})
}

func removeSubscription(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: videodl remove <name>", ExitUsageError)
	}

	e, err := newEngine(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer e.close()

	subscription, err := findSubscription(c.Context, e, c.Args().Get(0), c.String("owner"))
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	if err := e.syncer.Unsubscribe(c.Context, subscription, c.Bool("delete-files")); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to unsubscribe: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"success": true,
		"removed": subscription.Name,
	})
}

func deleteFile(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: videodl delete-file <file-uid>", ExitUsageError)
	}

	e, err := newEngine(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer e.close()

	file, err := e.store.GetFile(c.Context, c.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to find file: %v", err), ExitDataError)
	}
	subscription, err := e.store.GetSubscription(c.Context, file.SubscriptionID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to find subscription: %v", err), ExitDataError)
	}

	if err := e.syncer.DeleteFile(c.Context, subscription, file, c.Bool("forever")); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to delete file: %v", err), ExitDataError)
	}

	return outputJSON(map[string]interface{}{
		"success": true,
		"deleted": file.Path,
		"forever": c.Bool("forever"),
	})
}

func importOPML(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: videodl import <opml-file>", ExitUsageError)
	}

	e, err := newEngine(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer e.close()

	f, err := os.Open(c.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to open file: %v", err), ExitDataError)
	}
	defer f.Close()

	subs, err := opml.Parse(f)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to parse OPML: %v", err), ExitDataError)
	}

	imported := 0
	var failures []string
	for _, subscription := range subs {
		subscription.OwnerID = c.String("owner")
		if err := e.syncer.Subscribe(c.Context, subscription); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", subscription.URL, err))
			continue
		}
		imported++
	}
	e.queue.Wait()

	return outputJSON(map[string]interface{}{
		"success":  len(failures) == 0,
		"imported": imported,
		"failures": failures,
	})
}

func exportOPML(c *cli.Context) error {
	e, err := newEngine(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer e.close()

	subs, err := e.store.ListSubscriptions(c.Context, c.String("owner"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to get subscriptions: %v", err), ExitDataError)
	}

	out := os.Stdout
	if path := c.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to create file: %v", err), ExitDataError)
		}
		defer f.Close()
		out = f
	}

	if err := opml.Generate(out, subs); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to generate OPML: %v", err), ExitDataError)
	}
	return nil
}

// resetDownloading clears downloading flags left set by a crashed or killed
// process, which would otherwise block future syncs.
func resetDownloading(c *cli.Context) error {
	e, err := newEngine(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer e.close()

	var subs []*model.Subscription
	if c.NArg() > 0 {
		subscription, err := findSubscription(c.Context, e, c.Args().Get(0), c.String("owner"))
		if err != nil {
			return cli.Exit(err.Error(), ExitDataError)
		}
		subs = append(subs, subscription)
	} else {
		subs, err = e.store.AllSubscriptions(c.Context)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to get subscriptions: %v", err), ExitDataError)
		}
	}

	reset := 0
	for _, subscription := range subs {
		if !subscription.Downloading {
			continue
		}
		if err := e.store.SetSubscriptionDownloading(c.Context, subscription.ID, false); err != nil {
			return cli.Exit(fmt.Sprintf("Failed to reset %s: %v", subscription.Name, err), ExitDataError)
		}
		reset++
	}

	return outputJSON(map[string]interface{}{"success": true, "reset": reset})
}

func serve(c *cli.Context) error {
	e, err := newEngine(c)
	if err != nil {
		return cli.Exit(err.Error(), ExitDataError)
	}
	defer e.close()

	lockPath := filepath.Join(filepath.Dir(e.cfg.DatabasePath), "videodl.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to acquire lock: %v", err), ExitGeneralError)
	}
	if !locked {
		return cli.Exit("Another videodl daemon is already running", ExitGeneralError)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e.syncer.Reconciler().StartWorker(ctx)

	interval := time.Duration(e.cfg.SyncIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runAll := func() {
		total, err := e.syncer.SyncAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sync cycle failed: %v\n", err)
			return
		}
		if total > 0 {
			fmt.Printf("Sync cycle finished: %d new items\n", total)
		}
	}

	runAll()
	for {
		select {
		case <-ctx.Done():
			e.queue.Wait()
			return nil
		case <-ticker.C:
			runAll()
		}
	}
}
