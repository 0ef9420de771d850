package deploy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/johndauphine/wsl-backup/internal/pack"
)

type stubDeployer struct {
	mu      sync.Mutex
	active  int32
	maxSeen int32
	fail    map[string]error
	delay   time.Duration
	calls   []string
}

func (s *stubDeployer) Deploy(ctx context.Context, pkgPath, target string, opts pack.DeployOptions) (*pack.DeployResult, error) {
	cur := atomic.AddInt32(&s.active, 1)
	for {
		max := atomic.LoadInt32(&s.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&s.maxSeen, max, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	atomic.AddInt32(&s.active, -1)

	s.mu.Lock()
	s.calls = append(s.calls, target)
	s.mu.Unlock()

	if err, ok := s.fail[target]; ok {
		return nil, err
	}
	return &pack.DeployResult{Success: true, Target: target}, nil
}

func TestDeployBoundedConcurrency(t *testing.T) {
	stub := &stubDeployer{delay: 20 * time.Millisecond}
	c := New(stub)

	targets := []string{"host-a", "host-b", "host-c", "host-d", "host-e"}
	result, err := c.Deploy(context.Background(), "pkg.wslpkg.tar.gz", targets, 2, pack.DeployOptions{})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if got := atomic.LoadInt32(&stub.maxSeen); got > 2 {
		t.Errorf("observed %d concurrent deploys, limit was 2", got)
	}
	if result.Total != 5 || len(result.Outcomes) != 5 {
		t.Fatalf("expected 5 outcomes, got total=%d len=%d", result.Total, len(result.Outcomes))
	}
	if result.Succeeded != 5 || result.Failed != 0 {
		t.Errorf("succeeded=%d failed=%d, want 5/0", result.Succeeded, result.Failed)
	}
	if !result.Success() {
		t.Error("expected Success() true")
	}
}

func TestDeployFailureIsolation(t *testing.T) {
	stub := &stubDeployer{
		delay: 5 * time.Millisecond,
		fail: map[string]error{
			"host-b": errors.New("import timed out"),
			"host-d": errors.New("disk full"),
		},
	}
	c := New(stub)

	targets := []string{"host-a", "host-b", "host-c", "host-d", "host-e"}
	result, err := c.Deploy(context.Background(), "pkg.wslpkg.tar.gz", targets, 2, pack.DeployOptions{})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if len(result.Outcomes) != 5 {
		t.Fatalf("expected 5 outcomes regardless of failures, got %d", len(result.Outcomes))
	}
	if result.Succeeded != 3 || result.Failed != 2 {
		t.Errorf("succeeded=%d failed=%d, want 3/2", result.Succeeded, result.Failed)
	}
	if result.Success() {
		t.Error("expected Success() false with failures")
	}

	byTarget := map[string]TargetOutcome{}
	for _, o := range result.Outcomes {
		byTarget[o.Target] = o
	}
	if got := byTarget["host-b"]; got.Status != StatusFailed || got.Error == "" {
		t.Errorf("host-b outcome = %+v, want failed with error", got)
	}
	if got := byTarget["host-c"]; got.Status != StatusSucceeded {
		t.Errorf("host-c outcome = %+v, want succeeded despite sibling failure", got)
	}
}

func TestDeployOutcomesKeepInputOrder(t *testing.T) {
	stub := &stubDeployer{delay: time.Millisecond}
	c := New(stub)

	targets := []string{"zeta", "alpha", "mid"}
	result, err := c.Deploy(context.Background(), "pkg.tar.gz", targets, 3, pack.DeployOptions{})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	for i, target := range targets {
		if result.Outcomes[i].Target != target {
			t.Errorf("outcome[%d].Target = %q, want %q", i, result.Outcomes[i].Target, target)
		}
	}
}

func TestDeployCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := &stubDeployer{}
	c := New(stub)

	result, err := c.Deploy(ctx, "pkg.tar.gz", []string{"a", "b", "c"}, 1, pack.DeployOptions{})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if len(result.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes after cancellation, got %d", len(result.Outcomes))
	}
	// Cancellation before dispatch means every remaining target is reported
	// failed, not silently dropped.
	if result.Succeeded != 0 {
		t.Errorf("succeeded=%d after pre-cancelled context", result.Succeeded)
	}
}

func TestDeployEvents(t *testing.T) {
	stub := &stubDeployer{fail: map[string]error{"bad": errors.New("boom")}}
	c := New(stub)

	var mu sync.Mutex
	events := map[string][]JobStatus{}
	c.OnEvent = func(e Event) {
		mu.Lock()
		events[e.Target] = append(events[e.Target], e.Status)
		mu.Unlock()
	}

	if _, err := c.Deploy(context.Background(), "p.tar.gz", []string{"ok", "bad"}, 2, pack.DeployOptions{}); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	want := map[string]JobStatus{"ok": StatusSucceeded, "bad": StatusFailed}
	for target, final := range want {
		seq := events[target]
		if len(seq) < 3 {
			t.Fatalf("%s: expected pending/running/terminal events, got %v", target, seq)
		}
		if seq[0] != StatusPending || seq[1] != StatusRunning || seq[len(seq)-1] != final {
			t.Errorf("%s: event sequence %v, want pending,running,...,%s", target, seq, final)
		}
	}
}
