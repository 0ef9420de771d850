// Package deploy fans a migration package out to many targets with bounded
// parallelism. Each target succeeds or fails on its own; one bad target
// never aborts its siblings.
package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/johndauphine/wsl-backup/internal/logging"
	"github.com/johndauphine/wsl-backup/internal/pack"
)

// JobStatus is the state of one (package, target) deployment job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// TargetOutcome is the terminal result for one target. Failed jobs are
// reported, never re-queued.
type TargetOutcome struct {
	Target   string    `json:"target"`
	Status   JobStatus `json:"status"`
	Warnings []string  `json:"warnings,omitempty"`
	Duration string    `json:"duration,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Result aggregates every target's outcome
type Result struct {
	PackagePath string          `json:"package_path"`
	Total       int             `json:"total"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Outcomes    []TargetOutcome `json:"outcomes"`
}

// Success reports whether every target deployed
func (r *Result) Success() bool {
	return r.Failed == 0
}

// Deployer is the per-target deployment operation, satisfied by
// pack.Packager
type Deployer interface {
	Deploy(ctx context.Context, pkgPath, target string, opts pack.DeployOptions) (*pack.DeployResult, error)
}

// Event reports a job status transition to an observer
type Event struct {
	Target string
	Status JobStatus
	Err    error
}

// Coordinator runs batch deployments
type Coordinator struct {
	packager Deployer

	// OnEvent, when set, receives every job status transition. Called from
	// worker goroutines; observers must be safe for concurrent use.
	OnEvent func(Event)
}

// New creates a coordinator over the given packager
func New(packager Deployer) *Coordinator {
	return &Coordinator{packager: packager}
}

func (c *Coordinator) emit(target string, status JobStatus, err error) {
	if c.OnEvent != nil {
		c.OnEvent(Event{Target: target, Status: status, Err: err})
	}
}

// Deploy deploys the package to every target, running at most
// maxConcurrency imports in parallel. It waits for all dispatched work
// before returning; the result carries exactly one outcome per target.
func (c *Coordinator) Deploy(ctx context.Context, pkgPath string, targets []string, maxConcurrency int, opts pack.DeployOptions) (*Result, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	result := &Result{
		PackagePath: pkgPath,
		Total:       len(targets),
		Outcomes:    make([]TargetOutcome, len(targets)),
	}
	for i, target := range targets {
		result.Outcomes[i] = TargetOutcome{Target: target, Status: StatusPending}
		c.emit(target, StatusPending, nil)
	}

	logging.Info("deploying %s to %d target(s), %d at a time", pkgPath, len(targets), maxConcurrency)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, target := range targets {
		select {
		case <-ctx.Done():
			// Undispatched targets become failed outcomes so the aggregate
			// still reports every target.
			result.Outcomes[i] = TargetOutcome{
				Target: target,
				Status: StatusFailed,
				Error:  ctx.Err().Error(),
			}
			c.emit(target, StatusFailed, ctx.Err())
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int, target string) {
			defer wg.Done()
			defer func() { <-sem }()

			c.emit(target, StatusRunning, nil)
			start := time.Now()

			res, err := c.packager.Deploy(ctx, pkgPath, target, opts)

			outcome := TargetOutcome{
				Target:   target,
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if res != nil {
				outcome.Warnings = res.Warnings
			}
			if err != nil {
				outcome.Status = StatusFailed
				outcome.Error = err.Error()
				logging.Error("deploy to %s failed: %v", target, err)
			} else {
				outcome.Status = StatusSucceeded
				logging.Info("deploy to %s succeeded", target)
			}

			result.Outcomes[idx] = outcome
			c.emit(target, outcome.Status, err)
		}(i, target)
	}

	wg.Wait()

	for _, outcome := range result.Outcomes {
		switch outcome.Status {
		case StatusSucceeded:
			result.Succeeded++
		default:
			result.Failed++
		}
	}

	if result.Failed == 0 {
		logging.Success("all %d deployment(s) succeeded", result.Total)
	} else {
		logging.Warn("%d of %d deployment(s) failed", result.Failed, result.Total)
	}
	return result, nil
}
