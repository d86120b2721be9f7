package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/openhrv/bus"
	"github.com/justapithecus/openhrv/cli/render"
	"github.com/justapithecus/openhrv/sensor"
)

// ScanCommand returns the scan command.
func ScanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "List compatible heart rate sensors nearby",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:    "transport",
				Aliases: []string{"t"},
				Usage:   "Transport to scan with: ble or sim",
				Value:   "ble",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to listen for advertisements",
				Value: defaultScanTimeout,
			},
		),
		Action: scanAction,
	}
}

func scanAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	s := &runSettings{
		transport:   c.String("transport"),
		scanTimeout: c.Duration("timeout"),
		sim:         sensor.DefaultSimConfig(),
	}
	transport, err := buildTransport(s)
	if err != nil {
		return cli.Exit(err.Error(), exitSetupError)
	}
	scanner, ok := transport.(sensor.Scanner)
	if !ok {
		return cli.Exit(fmt.Sprintf("transport %s cannot scan", transport.Name()), exitSetupError)
	}

	// Leave the scanner time to return what it saw before ctx ends.
	ctx, cancel := context.WithTimeout(c.Context, s.scanTimeout+5*time.Second)
	defer cancel()

	found, err := sensor.NewDiscovery(scanner, bus.New(), nil).Scan(ctx, s.scanTimeout)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	if found == nil {
		found = []sensor.Peripheral{}
	}
	return r.Render(found)
}
