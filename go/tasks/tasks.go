// Package tasks runs background work per dataset: embedding generation,
// 2-D reduction, near-duplicate detection, and VLM auto-tagging.
//
// The engine admits at most one live task per (dataset, type). Workers are
// the single writer of their progress record; HTTP pollers read snapshots.
// Finished records linger in an LRU for a few minutes so pollers that
// arrive after the terminal update still see it.
package tasks

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/visionlens/visionlens/go/apperror"
	"github.com/visionlens/visionlens/go/metrics2"
	"github.com/visionlens/visionlens/go/now"
	"github.com/visionlens/visionlens/go/skerr"
	"github.com/visionlens/visionlens/go/sklog"
)

// Type names a kind of background work.
type Type string

const (
	TypeEmbed         Type = "embed"
	TypeReduce        Type = "reduce"
	TypeNearDuplicate Type = "near_duplicate"
	TypeAutoTag       Type = "auto_tag"
)

// Status of a task. Everything except Complete and Error counts as live
// for the conflict gate.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	// StatusFitting is the reduce task's optimisation phase.
	StatusFitting Status = "fitting"
	// StatusScanning and StatusGrouping are the near-duplicate phases.
	StatusScanning Status = "scanning"
	StatusGrouping Status = "grouping"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Terminal reports whether polling consumers should stop.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Progress is one task's state as shown to pollers.
type Progress struct {
	Status    Status `json:"status"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// RunFunc does the actual work. It must call update at every checkpoint
// (at least once per batch); the final update may set a terminal status
// and message. Returning an error marks the task failed.
type RunFunc func(ctx context.Context, update func(Progress)) error

// finishedCacheDuration is how long a terminal record stays readable.
const finishedCacheDuration = 5 * time.Minute

// cleanupPeriod is how often expired terminal records are evicted.
const cleanupPeriod = time.Minute

// finishedCacheSize bounds the LRU of terminal records.
const finishedCacheSize = 1000

type key struct {
	datasetID string
	taskType  Type
}

type finishedEntry struct {
	progress Progress
	finished time.Time
}

// Engine gates and tracks background tasks.
type Engine struct {
	// baseCtx parents every worker, so request contexts ending never stop
	// a task. Cancelled on shutdown.
	baseCtx context.Context

	mutex    sync.RWMutex
	running  map[key]Progress
	finished *lru.Cache

	numRunning  metrics2.Int64Metric
	numFinished metrics2.Int64Metric
}

// NewEngine returns an Engine whose workers stop when ctx is cancelled.
func NewEngine(ctx context.Context) (*Engine, error) {
	finished, err := lru.New(finishedCacheSize)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return &Engine{
		baseCtx:     ctx,
		running:     map[key]Progress{},
		finished:    finished,
		numRunning:  metrics2.GetInt64Metric("task_engine_num_running"),
		numFinished: metrics2.GetInt64Metric("task_engine_num_finished_in_cache"),
	}, nil
}

// Start launches the background eviction of expired terminal records.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(cleanupPeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.evictExpired(ctx)
			}
		}
	}()
}

func (e *Engine) evictExpired(ctx context.Context) {
	cutoff := now.Now(ctx).Add(-finishedCacheDuration)
	for _, k := range e.finished.Keys() {
		v, ok := e.finished.Get(k)
		if !ok {
			continue
		}
		if v.(finishedEntry).finished.Before(cutoff) {
			e.finished.Remove(k)
		}
	}
	e.numFinished.Update(int64(e.finished.Len()))
}

// AlreadyRunningError is the Conflict error for a live duplicate task. The
// HTTP layer uses it for fast-path checks before doing any store reads;
// Launch returns the identical error from inside the critical section.
func AlreadyRunningError(datasetID string, taskType Type) error {
	return apperror.New(apperror.Conflict, "a %s task is already running for dataset %s", taskType, datasetID)
}

// Launch starts a task of the given type for the dataset. Returns a
// Conflict error when one is already live; the check and the transition
// to running are a single critical section.
func (e *Engine) Launch(datasetID string, taskType Type, run RunFunc) error {
	k := key{datasetID: datasetID, taskType: taskType}
	e.mutex.Lock()
	if _, ok := e.running[k]; ok {
		e.mutex.Unlock()
		return AlreadyRunningError(datasetID, taskType)
	}
	e.running[k] = Progress{Status: StatusRunning}
	e.numRunning.Update(int64(len(e.running)))
	e.mutex.Unlock()

	go e.runTask(k, run)
	return nil
}

func (e *Engine) runTask(k key, run RunFunc) {
	defer metrics2.NewTimer("task_duration", map[string]string{"type": string(k.taskType)}).Stop()

	update := func(p Progress) {
		e.mutex.Lock()
		defer e.mutex.Unlock()
		if _, ok := e.running[k]; ok {
			e.running[k] = p
		}
	}

	err := run(e.baseCtx, update)

	e.mutex.Lock()
	final := e.running[k]
	delete(e.running, k)
	e.numRunning.Update(int64(len(e.running)))
	e.mutex.Unlock()

	if err != nil {
		sklog.Errorf("Task %s for dataset %s failed: %s", k.taskType, k.datasetID, err)
		final.Status = StatusError
		final.Message = err.Error()
	} else if !final.Status.Terminal() {
		final.Status = StatusComplete
	}
	e.finished.Add(k, finishedEntry{progress: final, finished: now.Now(e.baseCtx)})
}

// Progress returns a snapshot of the task's record: the live record if one
// exists, the cached terminal record if the task finished recently, and an
// idle record otherwise.
func (e *Engine) Progress(datasetID string, taskType Type) Progress {
	k := key{datasetID: datasetID, taskType: taskType}
	e.mutex.RLock()
	if p, ok := e.running[k]; ok {
		e.mutex.RUnlock()
		return p
	}
	e.mutex.RUnlock()

	if v, ok := e.finished.Get(k); ok {
		return v.(finishedEntry).progress
	}
	return Progress{Status: StatusIdle}
}

// IsRunning reports whether a live task of the given type exists.
func (e *Engine) IsRunning(datasetID string, taskType Type) bool {
	k := key{datasetID: datasetID, taskType: taskType}
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	_, ok := e.running[k]
	return ok
}
