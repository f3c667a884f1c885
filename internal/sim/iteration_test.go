package sim

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rawblock/mixsim/pkg/models"
)

func randomParamSet() models.ParamSet {
	return models.ParamSet{
		ID:                  1,
		NumMixes:            10,
		RandomTopology:      true,
		PeeringDegree:       models.FixedDegree(2),
		MinQueueSize:        10,
		TransmissionRate:    10,
		NumSenders:          1,
		NumSenderMsgs:       3,
		SenderDataMsgProb:   1.0,
		MixDataMsgProb:      0,
		NumMixesSendingData: 10,
		QueueType:           models.NonMix,
		NumIterations:       1,
	}
}

func runIteration(t *testing.T, p models.ParamSet, seed int64) (*Result, string) {
	t.Helper()
	dir := t.TempDir()
	it := &Iteration{ParamSet: p, Seed: seed, Dir: dir}
	result, err := it.Run()
	if err != nil {
		t.Fatalf("Iteration failed: %v", err)
	}
	return result, dir
}

func TestDisseminationClosure(t *testing.T) {
	result, dir := runIteration(t, randomParamSet(), 0)

	if len(result.Latencies) != 3 {
		t.Errorf("Expected 3 received data messages. Got: %d", len(result.Latencies))
	}
	for _, l := range result.Latencies {
		if l < 0 {
			t.Errorf("Expected non-negative latency. Got: %v", l)
		}
	}

	// latency.csv holds a header plus one row per message.
	rows := readCSVFile(t, filepath.Join(dir, "latency.csv"))
	if len(rows) != 4 {
		t.Errorf("Expected 4 rows in latency.csv. Got: %d", len(rows))
	}
}

func TestOutputsCommittedWithoutWIPMarker(t *testing.T) {
	p := randomParamSet()
	_, dir := runIteration(t, p, 0)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(e.Name(), "__WIP__") {
			t.Errorf("Uncommitted artifact left behind: %s", e.Name())
		}
		names = append(names, e.Name())
	}

	for _, want := range []string{
		"latency.csv", "sent_seq_0.csv", "recv_seq_0.csv", "recv_seq_1.csv",
		"data_msg_counts.csv", "topology.csv", "ordering_coeff.csv",
	} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Expected output %s. Got: %v", want, names)
		}
	}
}

func TestIterationDeterminism(t *testing.T) {
	p := randomParamSet()
	p.QueueType = models.PureCoinFlipping
	p.MinQueueSize = 4
	p.NumSenderMsgs = 20
	p.SenderDataMsgProb = 0.5
	p.MixDataMsgProb = 0.1
	p.NumMixesSendingData = 5

	_, dirA := runIteration(t, p, 3)
	_, dirB := runIteration(t, p, 3)

	for _, name := range []string{
		"latency.csv", "sent_seq_0.csv", "recv_seq_0.csv", "recv_seq_1.csv",
		"data_msg_counts.csv", "topology.csv", "ordering_coeff.csv",
	} {
		a, err := os.ReadFile(filepath.Join(dirA, name))
		if err != nil {
			t.Fatalf("Missing %s in first run: %v", name, err)
		}
		b, err := os.ReadFile(filepath.Join(dirB, name))
		if err != nil {
			t.Fatalf("Missing %s in second run: %v", name, err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("%s differs between identically seeded runs", name)
		}
	}
}

func TestIterationSeedChangesOutcome(t *testing.T) {
	p := randomParamSet()
	p.SenderDataMsgProb = 0.5
	p.NumSenderMsgs = 50

	_, dirA := runIteration(t, p, 0)
	_, dirB := runIteration(t, p, 1)

	a, _ := os.ReadFile(filepath.Join(dirA, "sent_seq_0.csv"))
	b, _ := os.ReadFile(filepath.Join(dirB, "sent_seq_0.csv"))
	if bytes.Equal(a, b) {
		t.Error("Expected different sender sequences for different seeds")
	}
}

func TestConservationOfData(t *testing.T) {
	p := randomParamSet()
	p.QueueType = models.PureRandomSampling
	p.MinQueueSize = 4
	p.NumSenderMsgs = 25
	p.SenderDataMsgProb = 0.9
	p.MixDataMsgProb = 0.2 // cover traffic must never count as sender data
	p.NumMixesSendingData = 10

	result, dir := runIteration(t, p, 7)

	// Every sender data message is eventually received exactly once.
	sentRows := readCSVFile(t, filepath.Join(dir, "sent_seq_0.csv"))
	sentData := 0
	for _, row := range sentRows {
		if !strings.HasPrefix(row[0], "-") {
			sentData++
		}
	}
	if len(result.Latencies) != sentData {
		t.Errorf("Expected %d latency records (one per sent data message). Got: %d",
			sentData, len(result.Latencies))
	}

	// Cover traffic carries the reserved sender index and never shows up
	// in latency.csv.
	latencyRows := readCSVFile(t, filepath.Join(dir, "latency.csv"))
	for _, row := range latencyRows[1:] {
		if strings.HasPrefix(row[0], "1:") {
			t.Errorf("Mix-origin message leaked into latency output: %v", row)
		}
	}
}

func TestStripedIterationWithPoolQueue(t *testing.T) {
	p := models.ParamSet{
		ID:                  1,
		NumMixes:            2,
		NumPaths:            2,
		PeeringDegree:       models.FixedDegree(1),
		MinQueueSize:        4,
		TransmissionRate:    1,
		NumSenders:          2,
		NumSenderMsgs:       10,
		SenderDataMsgProb:   0.5,
		NumMixesSendingData: 4,
		QueueType:           models.PermutedCoinFlipping,
		NumIterations:       1,
	}
	result, dir := runIteration(t, p, 0)

	if result.VTime < 0 {
		t.Errorf("Expected non-negative vtime. Got: %v", result.VTime)
	}

	// One coefficient row per (sender, receiver connection) pair: 2 senders
	// by 2 path tails.
	coeffRows := readCSVFile(t, filepath.Join(dir, "ordering_coeff.csv"))
	if len(coeffRows) != 1+2*2 {
		t.Fatalf("Expected header + 4 coefficient rows. Got: %d", len(coeffRows))
	}

	// Striped topologies never write a mix adjacency dump.
	if _, err := os.Stat(filepath.Join(dir, "topology.csv")); !os.IsNotExist(err) {
		t.Error("Expected no topology.csv for a striped network")
	}
}

func TestSkipCoeffSuppressesCoefficientOutput(t *testing.T) {
	dir := t.TempDir()
	it := &Iteration{ParamSet: randomParamSet(), Seed: 0, Dir: dir, SkipCoeff: true}
	result, err := it.Run()
	if err != nil {
		t.Fatalf("Iteration failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ordering_coeff.csv")); !os.IsNotExist(err) {
		t.Error("Expected no ordering_coeff.csv with the coefficient pass skipped")
	}
	if len(result.Causal) != 0 {
		t.Errorf("Expected no collected coefficients. Got: %d", len(result.Causal))
	}
}

func TestSenderProbOneEmitsNoNoise(t *testing.T) {
	p := randomParamSet()
	_, dir := runIteration(t, p, 0)

	for _, row := range readCSVFile(t, filepath.Join(dir, "sent_seq_0.csv")) {
		if strings.HasPrefix(row[0], "-") {
			t.Errorf("Expected no noise entries with sender_data_msg_prob = 1.0. Got: %v", row)
		}
	}
}

func readCSVFile(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", path, err)
	}
	return rows
}
