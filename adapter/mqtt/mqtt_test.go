package mqtt

import (
	"testing"
	"time"

	"github.com/justapithecus/openhrv/types"
)

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix string
		series types.Series
		want   string
	}{
		{"openhrv", types.SeriesBiofeedback, "openhrv/Biofeedback"},
		{"clinic/room4/", types.SeriesIBI, "clinic/room4/InterBeatInterval"},
	}
	for _, tt := range tests {
		if got := Topic(tt.prefix, tt.series); got != tt.want {
			t.Errorf("Topic(%q, %q) = %q, want %q", tt.prefix, tt.series, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing broker", Config{}},
		{"qos out of range", Config{Broker: "tcp://127.0.0.1:1883", QoS: 3}},
		{"wildcard prefix", Config{Broker: "tcp://127.0.0.1:1883", TopicPrefix: "hrv/#"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_ConnectFailure(t *testing.T) {
	// Nothing listens on port 1.
	start := time.Now()
	_, err := New(Config{Broker: "tcp://127.0.0.1:1", Timeout: 500 * time.Millisecond, SessionID: "s"})
	if err == nil {
		t.Fatal("expected connect error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("connect failure should not hang")
	}
}
