package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/openhrv/capture"
	"github.com/justapithecus/openhrv/cli/render"
	"github.com/justapithecus/openhrv/gatt"
	"github.com/justapithecus/openhrv/hrv"
	"github.com/justapithecus/openhrv/metrics"
	"github.com/justapithecus/openhrv/types"
)

// ReplaySummary is the outcome of running a capture through the pipeline.
type ReplaySummary struct {
	SessionID     string  `json:"session_id" yaml:"session_id"`
	Address       string  `json:"address" yaml:"address"`
	StartedAt     string  `json:"started_at" yaml:"started_at"`
	Span          string  `json:"span" yaml:"span"`
	Frames        int64   `json:"frames" yaml:"frames"`
	SkippedFrames int64   `json:"skipped_frames" yaml:"skipped_frames"`
	DecodeErrors  int64   `json:"decode_errors" yaml:"decode_errors"`
	WithoutRR     int64   `json:"packets_without_rr" yaml:"packets_without_rr"`
	IBIsAccepted  int64   `json:"ibis_accepted" yaml:"ibis_accepted"`
	IBIsCorrected int64   `json:"ibis_corrected" yaml:"ibis_corrected"`
	Reversals     int64   `json:"reversals" yaml:"reversals"`
	HRVClamped    int64   `json:"hrv_clamped" yaml:"hrv_clamped"`
	LastIBI       int     `json:"last_ibi_ms" yaml:"last_ibi_ms"`
	SmoothedHRV   float64 `json:"smoothed_hrv_ms" yaml:"smoothed_hrv_ms"`
	Score         float64 `json:"score" yaml:"score"`
}

// ReplayCommand returns the replay command.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Run a capture through the signal pipeline offline and summarize it",
		ArgsUsage: "<capture>",
		Flags: append(ReadOnlyFlags(),
			&cli.Float64Flag{
				Name:  "target",
				Usage: "HRV target in ms",
				Value: types.DefaultHRVTarget,
			},
			&cli.Float64Flag{
				Name:  "alpha",
				Usage: "EWMA smoothing weight in (0, 1]",
				Value: types.DefaultEWMAAlpha,
			},
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one <capture> argument", exitSetupError)
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open capture: %v", err), exitSetupError)
	}
	defer func() { _ = f.Close() }()

	summary, err := replayCapture(f, c.Float64("target"), c.Float64("alpha"))
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(summary)
}

// replayCapture feeds every notification of the capture in r through a
// fresh pipeline, stamping events with the captured timestamps.
func replayCapture(r io.Reader, target, alpha float64) (*ReplaySummary, error) {
	reader, err := capture.NewReader(r)
	if err != nil {
		return nil, err
	}
	header := reader.Header()

	collector := metrics.NewCollector("replay", "", header.SessionID)
	var now time.Time
	pipeline, err := hrv.NewPipeline(hrv.Config{
		Alpha:         alpha,
		Target:        target,
		BreathingRate: types.MaxBreathingRate,
		Metrics:       collector,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		return nil, err
	}

	summary := &ReplaySummary{
		SessionID: header.SessionID,
		Address:   header.Address,
		StartedAt: header.StartedAt.UTC().Format(time.RFC3339),
	}
	var first, last time.Time
	for {
		n, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var frameErr *capture.FrameError
			if !errors.As(err, &frameErr) || frameErr.IsFatal() {
				return nil, err
			}
			summary.SkippedFrames++
			continue
		}

		summary.Frames++
		if first.IsZero() {
			first = n.Ts
		}
		last = n.Ts
		now = n.Ts

		collector.IncPacketsReceived()
		ibis, err := gatt.Decode(n.Data)
		if err != nil {
			collector.IncDecodeErrors()
			continue
		}
		if len(ibis) == 0 {
			collector.IncPacketsWithoutRR()
			continue
		}
		for _, ibi := range ibis {
			pipeline.Process(ibi)
		}
	}

	snap := collector.Snapshot()
	state := pipeline.Snapshot()
	summary.Span = last.Sub(first).Round(time.Millisecond).String()
	summary.DecodeErrors = snap.DecodeErrors
	summary.WithoutRR = snap.PacketsWithoutRR
	summary.IBIsAccepted = snap.IBIsAccepted
	summary.IBIsCorrected = snap.IBIsCorrected
	summary.Reversals = snap.Reversals
	summary.HRVClamped = snap.HRVClamped
	summary.LastIBI = state.LastIBI
	summary.SmoothedHRV = state.SmoothedHRV
	summary.Score = state.Score
	return summary, nil
}
