package sim

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/mixsim/internal/stats"
	"github.com/rawblock/mixsim/pkg/models"
)

// SweepConfig selects which parameter grid a sweep runs and where its
// artifacts land.
type SweepConfig struct {
	Experiment models.ExperimentID `json:"experiment"`
	Session    models.SessionID    `json:"session"`
	QueueType  models.QueueType    `json:"queueType"`
	OutDir     string              `json:"outDir"`
	// FromParamSet / ToParamSet bound the sweep to an id range; zero means
	// unbounded on that side.
	FromParamSet uint16 `json:"fromParamset,omitempty"`
	ToParamSet   uint16 `json:"toParamset,omitempty"`
	SkipCoeff    bool   `json:"skipCoeff,omitempty"`
}

// Event is broadcast on sweep lifecycle transitions.
type Event struct {
	Type      string  `json:"type"` // "iteration_completed" / "paramset_completed" / "sweep_completed" / "sweep_failed"
	SweepID   string  `json:"sweepId"`
	ParamSet  uint16  `json:"paramset,omitempty"`
	Iteration int     `json:"iteration,omitempty"`
	VTime     float32 `json:"vtime,omitempty"`
	Duration  string  `json:"duration,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Progress is the runner's current state for the API.
type Progress struct {
	IsRunning           bool   `json:"isRunning"`
	SweepID             string `json:"sweepId,omitempty"`
	TotalParamSets      int64  `json:"totalParamsets"`
	CurrentParamSet     int64  `json:"currentParamset"`
	CurrentIteration    int64  `json:"currentIteration"`
	CompletedIterations int64  `json:"completedIterations"`
}

// ResultStore persists sweep results. The runner works without one: the
// CSV tree is the canonical output, the store is a query convenience.
type ResultStore interface {
	SaveSweep(ctx context.Context, sweepID string, cfg SweepConfig) error
	SaveParamSetSummary(ctx context.Context, sweepID string, p models.ParamSet,
		latency stats.Summary, coeffs map[string]stats.Summary) error
	SaveIterationDuration(ctx context.Context, sweepID string, paramsetID uint16,
		iteration int, seconds float64, vtime float32) error
}

// Runner executes one sweep at a time, tracking progress for concurrent
// readers.
type Runner struct {
	store     ResultStore
	eventFunc func(Event) // optional broadcast callback

	isRunning           atomic.Bool
	sweepID             atomic.Value // string
	totalParamSets      atomic.Int64
	currentParamSet     atomic.Int64
	currentIteration    atomic.Int64
	completedIterations atomic.Int64
}

// NewRunner creates a runner. Both the store and the event callback may be
// nil.
func NewRunner(store ResultStore, eventFunc func(Event)) *Runner {
	return &Runner{store: store, eventFunc: eventFunc}
}

// Progress returns the runner's current state (thread-safe).
func (r *Runner) Progress() Progress {
	id, _ := r.sweepID.Load().(string)
	return Progress{
		IsRunning:           r.isRunning.Load(),
		SweepID:             id,
		TotalParamSets:      r.totalParamSets.Load(),
		CurrentParamSet:     r.currentParamSet.Load(),
		CurrentIteration:    r.currentIteration.Load(),
		CompletedIterations: r.completedIterations.Load(),
	}
}

// StartSweep launches a sweep asynchronously and returns its id. Only one
// sweep runs at a time.
func (r *Runner) StartSweep(ctx context.Context, cfg SweepConfig) (string, error) {
	paramsets, err := models.NewAllParamSets(cfg.Experiment, cfg.Session, cfg.QueueType)
	if err != nil {
		return "", err
	}
	for i := range paramsets {
		if err := paramsets[i].Validate(); err != nil {
			return "", err
		}
	}
	if info, err := os.Stat(cfg.OutDir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("output directory does not exist: %s", cfg.OutDir)
	}

	if !r.isRunning.CompareAndSwap(false, true) {
		return "", fmt.Errorf("a sweep is already in progress")
	}

	sweepID := uuid.New().String()
	r.sweepID.Store(sweepID)
	r.totalParamSets.Store(int64(len(paramsets)))
	r.currentParamSet.Store(0)
	r.currentIteration.Store(0)
	r.completedIterations.Store(0)

	if r.store != nil {
		if err := r.store.SaveSweep(ctx, sweepID, cfg); err != nil {
			log.Printf("[Runner] Failed to persist sweep %s: %v", sweepID, err)
		}
	}

	go func() {
		defer r.isRunning.Store(false)
		if err := r.runSweep(ctx, sweepID, cfg, paramsets); err != nil {
			log.Printf("[Runner] Sweep %s failed: %v", sweepID, err)
			r.emit(Event{Type: "sweep_failed", SweepID: sweepID, Error: err.Error()})
			return
		}
		r.emit(Event{Type: "sweep_completed", SweepID: sweepID})
	}()

	return sweepID, nil
}

func (r *Runner) runSweep(ctx context.Context, sweepID string, cfg SweepConfig, paramsets []models.ParamSet) error {
	sessionStart := time.Now()
	sessionDirName := fmt.Sprintf("%sordering_e%ds%d_%s_%s__DUR__",
		wipInfix, cfg.Experiment, cfg.Session, cfg.QueueType,
		sessionStart.UTC().Format("2006-01-02T15:04:05Z"))
	sessionDir := filepath.Join(cfg.OutDir, sessionDirName)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return err
	}

	log.Printf("[Runner] Sweep %s: %d paramsets (e%ds%d, %s)",
		sweepID, len(paramsets), cfg.Experiment, cfg.Session, cfg.QueueType)

	for _, paramset := range paramsets {
		if cfg.FromParamSet != 0 && paramset.ID < cfg.FromParamSet {
			continue
		}
		if cfg.ToParamSet != 0 && paramset.ID > cfg.ToParamSet {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.currentParamSet.Store(int64(paramset.ID))
		if err := r.runParamSet(ctx, sweepID, cfg, sessionDir, paramset); err != nil {
			return fmt.Errorf("paramset %d: %v", paramset.ID, err)
		}
		r.emit(Event{Type: "paramset_completed", SweepID: sweepID, ParamSet: paramset.ID})
		log.Printf("[Runner] ParamSet:%d completed", paramset.ID)
	}

	if err := stats.Aggregate(sessionDir); err != nil {
		return fmt.Errorf("aggregate: %v", err)
	}

	// Commit the session directory: strip the WIP marker and stamp the
	// total duration into the name.
	newName := strings.Replace(sessionDirName, wipInfix, "", 1)
	newName = strings.Replace(newName, "__DUR__", formatDuration(time.Since(sessionStart)), 1)
	newDir := filepath.Join(cfg.OutDir, newName)
	if _, err := os.Stat(newDir); err == nil {
		return fmt.Errorf("session directory already exists: %s", newDir)
	}
	return os.Rename(sessionDir, newDir)
}

func (r *Runner) runParamSet(ctx context.Context, sweepID string, cfg SweepConfig,
	sessionDir string, paramset models.ParamSet) error {
	wipDir := filepath.Join(sessionDir, fmt.Sprintf("%sparamset_%d", wipInfix, paramset.ID))
	if err := os.MkdirAll(wipDir, 0o755); err != nil {
		return err
	}
	if err := writeParamSetCSV(filepath.Join(wipDir, "paramset.csv"), &paramset); err != nil {
		return err
	}

	durPath := filepath.Join(wipDir, wipInfix+"durations.csv")
	durWriter, err := newDurationsWriter(durPath)
	if err != nil {
		return err
	}

	var latencies, strong, causal, weak []float64
	for i := 0; i < paramset.NumIterations; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r.currentIteration.Store(int64(i))

		iterDir := filepath.Join(wipDir, fmt.Sprintf("iteration_%d", i))
		if err := os.MkdirAll(iterDir, 0o755); err != nil {
			return err
		}

		start := time.Now()
		iteration := &Iteration{
			ParamSet:  paramset,
			Seed:      int64(i),
			Dir:       iterDir,
			SkipCoeff: cfg.SkipCoeff,
		}
		result, err := iteration.Run()
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		if err := durWriter.add(i, elapsed, result.VTime); err != nil {
			return err
		}
		latencies = append(latencies, result.Latencies...)
		strong = append(strong, result.Strong...)
		causal = append(causal, result.Causal...)
		weak = append(weak, result.Weak...)

		r.completedIterations.Add(1)
		r.emit(Event{
			Type:      "iteration_completed",
			SweepID:   sweepID,
			ParamSet:  paramset.ID,
			Iteration: i,
			VTime:     result.VTime,
			Duration:  formatDuration(elapsed),
		})
		if r.store != nil {
			if err := r.store.SaveIterationDuration(ctx, sweepID, paramset.ID, i,
				elapsed.Seconds(), result.VTime); err != nil {
				log.Printf("[Runner] Failed to persist duration: %v", err)
			}
		}
		log.Printf("[Runner] ParamSet:%d, Iteration:%d completed. Duration:%s, vtime:%v",
			paramset.ID, i, formatDuration(elapsed), result.VTime)
	}

	if err := durWriter.close(); err != nil {
		return err
	}
	if err := os.Rename(durPath, filepath.Join(wipDir, "durations.csv")); err != nil {
		return err
	}

	latencySummary := stats.Summarize(latencies)
	if err := stats.WriteCSV(filepath.Join(wipDir, "latency_stats.csv"), latencySummary); err != nil {
		return err
	}
	coeffs := map[string]stats.Summary{}
	if len(causal) > 0 {
		coeffs["strong"] = stats.Summarize(strong)
		coeffs["causal"] = stats.Summarize(causal)
		coeffs["weak"] = stats.Summarize(weak)
		for kind, summary := range coeffs {
			if err := stats.WriteCSV(filepath.Join(wipDir, kind+"_coeff_stats.csv"), summary); err != nil {
				return err
			}
		}
	}
	if r.store != nil {
		if err := r.store.SaveParamSetSummary(ctx, sweepID, paramset, latencySummary, coeffs); err != nil {
			log.Printf("[Runner] Failed to persist paramset summary: %v", err)
		}
	}

	return os.Rename(wipDir, filepath.Join(sessionDir, fmt.Sprintf("paramset_%d", paramset.ID)))
}

func (r *Runner) emit(event Event) {
	if r.eventFunc != nil {
		r.eventFunc(event)
	}
}

func writeParamSetCSV(path string, p *models.ParamSet) error {
	f, err := createNew(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(models.ParamSetCSVColumns); err != nil {
		return err
	}
	if err := w.Write(p.AsCSVRecord()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// formatDuration renders a wall-clock duration as "0d0h4m32s".
func formatDuration(d time.Duration) string {
	total := int64(d.Seconds())
	days := total / 86_400
	hours := (total % 86_400) / 3_600
	minutes := (total % 3_600) / 60
	seconds := total % 60
	return fmt.Sprintf("%dd%dh%dm%ds", days, hours, minutes, seconds)
}
