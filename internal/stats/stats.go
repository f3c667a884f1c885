package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// Summary is the five-number description every measurement column is
// reduced to: min, median, mean, std, max.
type Summary struct {
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Max    float64 `json:"max"`
}

// CSVColumns is the header of every *_stats.csv file.
var CSVColumns = []string{"min", "median", "mean", "std", "max"}

// Summarize reduces a sample to its Summary. The input is copied and
// sorted; an empty sample yields the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return Summary{
		Min:    sorted[0],
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Mean:   stat.Mean(sorted, nil),
		Std:    stat.StdDev(sorted, nil),
		Max:    sorted[len(sorted)-1],
	}
}

// AsCSVRecord renders the summary as one row under CSVColumns.
func (s Summary) AsCSVRecord() []string {
	return []string{
		formatFloat(s.Min),
		formatFloat(s.Median),
		formatFloat(s.Mean),
		formatFloat(s.Std),
		formatFloat(s.Max),
	}
}

// WriteCSV writes a single-summary stats file. The file must not already
// exist.
func WriteCSV(path string, s Summary) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("stats file %s: %v", path, err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(CSVColumns); err != nil {
		return err
	}
	if err := w.Write(s.AsCSVRecord()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// ReadCSV loads a single-summary stats file written by WriteCSV.
func ReadCSV(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return Summary{}, err
	}
	if len(records) < 2 || len(records[1]) != len(CSVColumns) {
		return Summary{}, fmt.Errorf("stats file %s: malformed", path)
	}
	row := records[1]
	var s Summary
	for i, dst := range []*float64{&s.Min, &s.Median, &s.Mean, &s.Std, &s.Max} {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return Summary{}, fmt.Errorf("stats file %s: column %s: %v", path, CSVColumns[i], err)
		}
		*dst = v
	}
	return s, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
