package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/openhrv/cli/render"
	"github.com/justapithecus/openhrv/lode"
)

// StatsCommand returns the stats command with subcommands.
// Stats reads back what run persisted; it never opens a sensor.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show stored session statistics (summary, events)",
		Subcommands: []*cli.Command{
			statsSummaryCommand(),
			statsEventsCommand(),
		},
	}
}

func storageReadFlags() []cli.Flag {
	return append(ReadOnlyFlags(),
		ConfigFlag,
		&cli.StringFlag{Name: "storage-dataset", Usage: "Dataset ID", Value: lode.DefaultDataset},
		&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: fs or s3", Value: "fs"},
		&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for S3 backend"},
		&cli.StringFlag{Name: "session", Usage: "Session ID (latest when empty)"},
	)
}

func statsSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:   "summary",
		Usage:  "Show the metrics summary of a stored session",
		Flags:  storageReadFlags(),
		Action: statsSummaryAction,
	}
}

func statsSummaryAction(c *cli.Context) error {
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	ds, err := openReadDataset(ctx, c)
	if err != nil {
		return err
	}

	record, err := lode.QueryLatestSummary(ctx, ds, c.String("session"))
	if errors.Is(err, lode.ErrNoSummaryFound) {
		return cli.Exit(err.Error(), exitFailure)
	}
	if err != nil {
		return fmt.Errorf("failed to read summary from Lode: %w", err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(record)
}

func statsEventsCommand() *cli.Command {
	return &cli.Command{
		Name:   "events",
		Usage:  "List the persisted events of a session",
		Flags:  storageReadFlags(),
		Action: statsEventsAction,
	}
}

func statsEventsAction(c *cli.Context) error {
	sessionID := c.String("session")
	if sessionID == "" {
		return cli.Exit("--session is required", exitSetupError)
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	ds, err := openReadDataset(ctx, c)
	if err != nil {
		return err
	}

	events, err := lode.ReadSessionEvents(ctx, ds, sessionID)
	if err != nil {
		return fmt.Errorf("failed to read events from Lode: %w", err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if events == nil {
		events = []lode.EventRecord{}
	}
	return r.Render(events)
}

// openReadDataset builds a Lode Dataset for reading from flags, falling
// back to the storage section of --config.
func openReadDataset(ctx context.Context, c *cli.Context) (lodelibrary.Dataset, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitSetupError)
	}
	backend := pick(c, "storage-backend", cfg.Storage.Backend)
	path := pick(c, "storage-path", cfg.Storage.Path)
	dataset := pick(c, "storage-dataset", cfg.Storage.Dataset)

	switch backend {
	case "fs":
		if path == "" {
			return nil, cli.Exit("--storage-path is required", exitSetupError)
		}
		return lode.NewReadDatasetFS(dataset, path)
	case "s3":
		s3cfg := cfg.Storage.S3
		if c.IsSet("storage-path") {
			s3cfg.Bucket, s3cfg.Prefix = lode.ParseS3Path(path)
		}
		if c.IsSet("storage-region") {
			s3cfg.Region = c.String("storage-region")
		}
		return lode.NewReadDatasetS3(ctx, dataset, s3cfg)
	default:
		return nil, cli.Exit(fmt.Sprintf("unsupported storage-backend: %s (must be fs or s3)", backend), exitSetupError)
	}
}
