package sim

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/mixsim/internal/stats"
	"github.com/rawblock/mixsim/pkg/models"
)

func TestRunParamSetLifecycle(t *testing.T) {
	sessionDir := t.TempDir()
	paramset := models.ParamSet{
		ID:                  3,
		NumMixes:            5,
		RandomTopology:      true,
		PeeringDegree:       models.FixedDegree(2),
		MinQueueSize:        4,
		TransmissionRate:    5,
		NumSenders:          1,
		NumSenderMsgs:       5,
		SenderDataMsgProb:   0.8,
		MixDataMsgProb:      0,
		NumMixesSendingData: 5,
		QueueType:           models.PureCoinFlipping,
		NumIterations:       2,
	}

	var events []Event
	r := NewRunner(nil, func(e Event) { events = append(events, e) })
	if err := r.runParamSet(context.Background(), "sweep-test", SweepConfig{}, sessionDir, paramset); err != nil {
		t.Fatalf("runParamSet failed: %v", err)
	}

	dir := filepath.Join(sessionDir, "paramset_3")
	for _, want := range []string{
		"paramset.csv", "durations.csv", "latency_stats.csv",
		"strong_coeff_stats.csv", "causal_coeff_stats.csv", "weak_coeff_stats.csv",
		"iteration_0/latency.csv", "iteration_1/latency.csv",
	} {
		if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
			t.Errorf("Expected %s after paramset completion: %v", want, err)
		}
	}

	// No WIP markers survive a clean run.
	err := filepath.Walk(dir, func(path string, _ os.FileInfo, err error) error {
		if err == nil && strings.Contains(filepath.Base(path), "__WIP__") {
			t.Errorf("WIP artifact left behind: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(events) != 2 {
		t.Errorf("Expected 2 iteration_completed events. Got: %d", len(events))
	}

	// The sweep-level aggregation picks the paramset up.
	if err := stats.Aggregate(sessionDir); err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(sessionDir, "aggregated.csv")); err != nil {
		t.Errorf("Expected aggregated.csv: %v", err)
	}
}

func TestStartSweepRejectsMissingOutDir(t *testing.T) {
	r := NewRunner(nil, nil)
	_, err := r.StartSweep(context.Background(), SweepConfig{
		Experiment: models.Experiment1,
		Session:    models.Session1,
		QueueType:  models.NonMix,
		OutDir:     filepath.Join(t.TempDir(), "does-not-exist"),
	})
	if err == nil {
		t.Error("Expected error for missing output directory")
	}
	if r.Progress().IsRunning {
		t.Error("Runner must not be marked running after a rejected start")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "0d0h0m0s"},
		{61, "0d0h1m1s"},
		{90_061, "1d1h1m1s"},
	}
	for _, c := range cases {
		got := formatDuration(time.Duration(c.seconds) * time.Second)
		if got != c.want {
			t.Errorf("formatDuration(%ds): expected %s. Got: %s", c.seconds, c.want, got)
		}
	}
}
