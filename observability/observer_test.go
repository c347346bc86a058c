package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tasquencer/orchestrator/observability"
)

func TestLevelSeverityMapping(t *testing.T) {
	tests := []struct {
		level    observability.Level
		wantText string
		wantSlog slog.Level
	}{
		{observability.LevelVerbose, "DEBUG", slog.LevelDebug},
		{observability.LevelInfo, "INFO", slog.LevelInfo},
		{observability.LevelWarning, "WARN", slog.LevelWarn},
		{observability.LevelError, "ERROR", slog.LevelError},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.wantText {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.wantText)
		}
		if got := tt.level.SlogLevel(); got != tt.wantSlog {
			t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.wantSlog)
		}
	}
}

func TestResourceIsZero(t *testing.T) {
	if !(observability.Resource{}).IsZero() {
		t.Errorf("empty Resource.IsZero() = false, want true")
	}
	if (observability.Resource{Workflow: "w1"}).IsZero() {
		t.Errorf("Resource with workflow set reports IsZero() = true")
	}
	// Generation alone identifies nothing.
	if !(observability.Resource{Generation: 3}).IsZero() {
		t.Errorf("Resource with only a generation should still be zero")
	}
}

func TestSlogObserverFlattensResource(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := observability.NewSlogObserver(logger)

	obs.Observe(context.Background(), observability.Event{
		Type:      "engine.task.completed",
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "engine",
		Resource:  observability.Resource{Workflow: "w1", Task: "approve", Generation: 2},
		Data:      map[string]any{"verdict": "complete"},
	})

	out := buf.String()
	for _, want := range []string{"engine.task.completed", "workflow=w1", "task=approve", "generation=2", "verdict=complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("slog output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "workItem=") {
		t.Errorf("unset workItem field leaked into output:\n%s", out)
	}
}

type captureObserver struct {
	events []observability.Event
}

func (c *captureObserver) Observe(_ context.Context, e observability.Event) {
	c.events = append(c.events, e)
}

func TestMultiObserverFansOutAndSkipsNil(t *testing.T) {
	a := &captureObserver{}
	b := &captureObserver{}
	multi := observability.NewMultiObserver(a, nil, b)

	multi.Observe(context.Background(), observability.Event{
		Type:     "engine.workflow.completed",
		Level:    observability.LevelInfo,
		Resource: observability.Resource{Workflow: "w1"},
	})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("fan-out delivered %d/%d events, want 1/1", len(a.events), len(b.events))
	}
	if a.events[0].Resource.Workflow != "w1" {
		t.Errorf("resource not forwarded intact: %+v", a.events[0].Resource)
	}
}

func TestRegistryResolveAndRegister(t *testing.T) {
	for _, name := range []string{"noop", "slog"} {
		if _, err := observability.Resolve(name); err != nil {
			t.Errorf("Resolve(%q): %v", name, err)
		}
	}
	if _, err := observability.Resolve("definitely-not-registered"); err == nil {
		t.Errorf("Resolve of unknown name succeeded, want error")
	}

	custom := &captureObserver{}
	observability.Register("capture-test", custom)
	got, err := observability.Resolve("capture-test")
	if err != nil {
		t.Fatalf("Resolve after Register: %v", err)
	}
	if got != observability.Observer(custom) {
		t.Errorf("Resolve returned a different observer than registered")
	}
}
