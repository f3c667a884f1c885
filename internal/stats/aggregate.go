package stats

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Aggregation joins each paramset's configuration row with the summaries of
// its measurement files into a single sweep-level table, one row per
// paramset. Missing stats files (a sweep run with the coefficient pass
// skipped writes none) simply leave their columns empty for that row.

// statKinds maps the stats file stem to the column prefix it contributes.
var statKinds = []struct {
	file   string
	prefix string
}{
	{"latency_stats.csv", "latency_"},
	{"strong_coeff_stats.csv", "strong_coeff_"},
	{"causal_coeff_stats.csv", "causal_coeff_"},
	{"weak_coeff_stats.csv", "weak_coeff_"},
}

// Aggregate scans sweepDir for paramset_<id> directories and writes
// aggregated.csv, sorted by paramset id.
func Aggregate(sweepDir string) error {
	entries, err := os.ReadDir(sweepDir)
	if err != nil {
		return err
	}

	type row struct {
		id     int
		record map[string]string
	}
	var header []string
	var rows []row

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "paramset_") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "paramset_"))
		if err != nil {
			continue
		}
		dir := filepath.Join(sweepDir, entry.Name())

		cols, values, err := readSingleRowCSV(filepath.Join(dir, "paramset.csv"))
		if err != nil {
			return fmt.Errorf("aggregate %s: %v", entry.Name(), err)
		}
		record := make(map[string]string, len(cols)+5*len(statKinds))
		for i, c := range cols {
			record[c] = values[i]
		}
		if header == nil {
			header = append(header, cols...)
			for _, kind := range statKinds {
				for _, c := range CSVColumns {
					header = append(header, kind.prefix+c)
				}
			}
		}

		for _, kind := range statKinds {
			path := filepath.Join(dir, kind.file)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			s, err := ReadCSV(path)
			if err != nil {
				return fmt.Errorf("aggregate %s: %v", entry.Name(), err)
			}
			rec := s.AsCSVRecord()
			for i, c := range CSVColumns {
				record[kind.prefix+c] = rec[i]
			}
		}
		rows = append(rows, row{id: id, record: record})
	}

	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })

	out, err := os.Create(filepath.Join(sweepDir, "aggregated.csv"))
	if err != nil {
		return err
	}
	defer out.Close()
	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		record := make([]string, len(header))
		for i, c := range header {
			record[i] = r.record[c]
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func readSingleRowCSV(path string) ([]string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, fmt.Errorf("%s: expected header and one row", path)
	}
	return records[0], records[1], nil
}
