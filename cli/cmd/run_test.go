package cmd

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/openhrv/bus"
	"github.com/justapithecus/openhrv/types"
)

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openhrv.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunCommand_SimSessionPersistsAndSummarizes(t *testing.T) {
	storeDir := t.TempDir()
	csvPath := filepath.Join(t.TempDir(), "session.csv")
	cfgPath := writeConfig(t, "sensor:\n  transport: sim\n  sim:\n    speed: 50\n")

	out, code := runApp(t, []*cli.Command{RunCommand()},
		"run",
		"--config", cfgPath,
		"--duration", "1s",
		"--storage-path", storeDir,
		"--csv", csvPath,
		"--format", "json",
	)
	if code != exitSuccess {
		t.Fatalf("exit code = %d, output %q", code, out)
	}

	var summary RunSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if summary.SessionID == "" || summary.Transport != "sim" {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Packets == 0 {
		t.Error("expected packets from the simulated sensor")
	}
	if summary.Persisted == 0 {
		t.Error("expected persisted events")
	}
	if summary.Recording != csvPath {
		t.Errorf("recording = %q, want %q", summary.Recording, csvPath)
	}
	if _, err := os.Stat(csvPath); err != nil {
		t.Errorf("recording not written: %v", err)
	}

	out, code = runApp(t, []*cli.Command{StatsCommand()},
		"stats", "summary",
		"--storage-path", storeDir,
		"--session", summary.SessionID,
		"--format", "json",
	)
	if code != 0 {
		t.Fatalf("stats exit code = %d, output %q", code, out)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if record["session_id"] != summary.SessionID {
		t.Errorf("summary record session_id = %v, want %s", record["session_id"], summary.SessionID)
	}
}

func TestRunCommand_InvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"transport", []string{"run", "--transport", "usb"}},
		{"target out of range", []string{"run", "--transport", "sim", "--target", "10", "--duration", "10ms"}},
		{"breathing rate off grid", []string{"run", "--transport", "sim", "--breathing-rate", "5.3", "--duration", "10ms"}},
		{"missing config", []string{"run", "--config", "/nonexistent/openhrv.yaml"}},
		{"log level", []string{"run", "--transport", "sim", "--log-level", "loud", "--duration", "10ms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, code := runApp(t, []*cli.Command{RunCommand()}, tt.args...); code != exitSetupError {
				t.Errorf("exit code = %d, want %d", code, exitSetupError)
			}
		})
	}
}

func TestStatsEvents_RequiresSession(t *testing.T) {
	_, code := runApp(t, []*cli.Command{StatsCommand()}, "stats", "events", "--storage-path", t.TempDir())
	if code != exitSetupError {
		t.Errorf("exit code = %d, want %d", code, exitSetupError)
	}
}

func TestStatsSummary_NoSessions(t *testing.T) {
	_, code := runApp(t, []*cli.Command{StatsCommand()}, "stats", "summary", "--storage-path", t.TempDir())
	if code != exitFailure {
		t.Errorf("exit code = %d, want %d", code, exitFailure)
	}
}

type closeCounter struct{ closed int }

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}

func TestSubscribeOrClose_ClosesOwnedOnFailure(t *testing.T) {
	b := bus.New()
	if err := b.Subscribe("tui", make(chan *types.Event, 1)); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	policy, adapter := &closeCounter{}, &closeCounter{}
	err := subscribeOrClose(b, "tui", make(chan *types.Event, 1), []io.Closer{policy, adapter})
	if !errors.Is(err, bus.ErrSubscriberExists) {
		t.Fatalf("error = %v, want ErrSubscriberExists", err)
	}
	if policy.closed != 1 || adapter.closed != 1 {
		t.Errorf("closed = %d, %d, want 1, 1", policy.closed, adapter.closed)
	}
}

func TestSubscribeOrClose_KeepsOwnedOnSuccess(t *testing.T) {
	owned := &closeCounter{}
	if err := subscribeOrClose(bus.New(), "tui", make(chan *types.Event, 1), []io.Closer{owned}); err != nil {
		t.Fatalf("subscribeOrClose: %v", err)
	}
	if owned.closed != 0 {
		t.Errorf("closed = %d, want 0", owned.closed)
	}
}
