package stats

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{4, 1, 3, 2, 5})

	if s.Min != 1 {
		t.Errorf("Expected min 1. Got: %v", s.Min)
	}
	if s.Max != 5 {
		t.Errorf("Expected max 5. Got: %v", s.Max)
	}
	if s.Mean != 3 {
		t.Errorf("Expected mean 3. Got: %v", s.Mean)
	}
	if s.Median != 3 {
		t.Errorf("Expected median 3. Got: %v", s.Median)
	}
	// Sample standard deviation of 1..5
	if math.Abs(s.Std-math.Sqrt(2.5)) > 1e-12 {
		t.Errorf("Expected std sqrt(2.5). Got: %v", s.Std)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if s := Summarize(nil); s != (Summary{}) {
		t.Errorf("Expected zero summary for empty sample. Got: %+v", s)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latency_stats.csv")
	want := Summarize([]float64{0.5, 1.5, 2.5})
	if err := WriteCSV(path, want); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	got, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if got != want {
		t.Errorf("Round trip mismatch: wrote %+v, read %+v", want, got)
	}

	// Refuses to overwrite.
	if err := WriteCSV(path, want); err == nil {
		t.Error("Expected error when stats file already exists")
	}
}

func TestAggregate(t *testing.T) {
	sweepDir := t.TempDir()
	for _, id := range []int{2, 1} {
		dir := filepath.Join(sweepDir, "paramset_"+string(rune('0'+id)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		paramsetCSV := "paramset,queue_type\n" + string(rune('0'+id)) + ",NonMix\n"
		if err := os.WriteFile(filepath.Join(dir, "paramset.csv"), []byte(paramsetCSV), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := WriteCSV(filepath.Join(dir, "latency_stats.csv"), Summarize([]float64{float64(id)})); err != nil {
			t.Fatal(err)
		}
	}

	if err := Aggregate(sweepDir); err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(sweepDir, "aggregated.csv"))
	if err != nil {
		t.Fatalf("aggregated.csv missing: %v", err)
	}
	content := string(data)
	lines := len(content) - len(stripNewlines(content))
	if lines != 3 { // header + 2 rows
		t.Errorf("Expected 3 lines in aggregated.csv. Got %d:\n%s", lines, content)
	}
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
