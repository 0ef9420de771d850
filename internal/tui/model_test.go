package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/johndauphine/wsl-backup/internal/deploy"
)

func TestUpdateTracksTargetStatus(t *testing.T) {
	events := make(chan deploy.Event)
	done := make(chan DoneMsg)
	m := NewModel("pkg.tar.gz", []string{"host-a", "host-b"}, events, done)

	next, _ := m.Update(EventMsg{Target: "host-a", Status: deploy.StatusRunning})
	m = next.(Model)
	next, _ = m.Update(EventMsg{Target: "host-a", Status: deploy.StatusSucceeded})
	m = next.(Model)
	next, _ = m.Update(EventMsg{Target: "host-b", Status: deploy.StatusFailed, Err: errors.New("boom")})
	m = next.(Model)

	view := m.View()
	if !strings.Contains(view, "host-a") || !strings.Contains(view, "done") {
		t.Errorf("view missing succeeded target:\n%s", view)
	}
	if !strings.Contains(view, "failed") || !strings.Contains(view, "boom") {
		t.Errorf("view missing failure detail:\n%s", view)
	}
	if !strings.Contains(view, "2/2 complete (1 failed)") {
		t.Errorf("view missing summary line:\n%s", view)
	}
}

func TestUpdateDoneQuits(t *testing.T) {
	events := make(chan deploy.Event)
	done := make(chan DoneMsg)
	m := NewModel("pkg.tar.gz", []string{"host-a"}, events, done)

	result := &deploy.Result{Total: 1, Succeeded: 1}
	next, cmd := m.Update(DoneMsg{Result: result})
	m = next.(Model)

	if cmd == nil {
		t.Fatal("expected quit command after DoneMsg")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Errorf("expected tea.Quit, got %T", msg)
	}
	got, err := m.Result()
	if err != nil || got != result {
		t.Errorf("Result() = %v, %v", got, err)
	}
}
