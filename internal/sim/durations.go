package sim

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

// durationsWriter streams per-iteration wall-clock rows to durations.csv.
// Wall-clock values are the one output that is not reproducible across
// runs, which is why they live in their own file.
type durationsWriter struct {
	file *os.File
	w    *csv.Writer
}

func newDurationsWriter(path string) (*durationsWriter, error) {
	f, err := createNew(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"iteration", "time_human", "time_sec", "vtime"}); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return &durationsWriter{file: f, w: w}, nil
}

func (d *durationsWriter) add(iteration int, elapsed time.Duration, vtime float32) error {
	if err := d.w.Write([]string{
		strconv.Itoa(iteration),
		formatDuration(elapsed),
		strconv.FormatInt(int64(elapsed.Seconds()), 10),
		fmtF32(vtime),
	}); err != nil {
		return err
	}
	d.w.Flush()
	return d.w.Error()
}

func (d *durationsWriter) close() error {
	d.w.Flush()
	if err := d.w.Error(); err != nil {
		return err
	}
	return d.file.Close()
}
