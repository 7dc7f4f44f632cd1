package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/agentworkforce/sanitycheck/internal/flowdiff"
	"github.com/agentworkforce/sanitycheck/internal/reconcile"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("SANITYCHECK_TEST_INT", "42")
	got := intEnv("SANITYCHECK_TEST_INT", 7)
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("SANITYCHECK_TEST_INT_BAD", "not-a-number")
	got := intEnv("SANITYCHECK_TEST_INT_BAD", 7)
	if got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestInt64EnvParsesValue(t *testing.T) {
	t.Setenv("SANITYCHECK_TEST_INT64", "2097152")
	if got := int64Env("SANITYCHECK_TEST_INT64", 1); got != 2097152 {
		t.Fatalf("expected 2097152, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("SANITYCHECK_TEST_DURATION", "150ms")
	got := durationEnv("SANITYCHECK_TEST_DURATION", time.Second)
	if got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("SANITYCHECK_TEST_DURATION_BAD", "soon")
	got := durationEnv("SANITYCHECK_TEST_DURATION_BAD", 2*time.Second)
	if got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("SANITYCHECK_TEST_INT_UNSET")
	_ = os.Unsetenv("SANITYCHECK_TEST_DURATION_UNSET")
	_ = os.Unsetenv("SANITYCHECK_TEST_STRING_UNSET")

	if got := intEnv("SANITYCHECK_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := durationEnv("SANITYCHECK_TEST_DURATION_UNSET", 3*time.Second); got != 3*time.Second {
		t.Fatalf("expected fallback 3s, got %s", got)
	}
	if got := envOr("SANITYCHECK_TEST_STRING_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestListEnvSplitsAndTrims(t *testing.T) {
	t.Setenv("SANITYCHECK_TEST_LIST", " localhost:*, ,example.com ")
	got := listEnv("SANITYCHECK_TEST_LIST")
	if len(got) != 2 || got[0] != "localhost:*" || got[1] != "example.com" {
		t.Fatalf("unexpected list: %#v", got)
	}
}

func TestNewLoggerFormatsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", "warn")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("expected json record, got %s", out)
	}

	if _, err := newLogger(&buf, "xml", "info"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	if _, err := newLogger(&buf, "text", "loud"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "db": false, "flows": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestDBInitOnMemoryStore(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"db", "init", "--dsn", "memory://"})
	if err := root.Execute(); err != nil {
		t.Fatalf("db init: %v", err)
	}
	if !strings.HasPrefix(out.String(), "ok: schema applied") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestBuildAppWiresServices(t *testing.T) {
	a, err := buildApp(context.Background(), &rootFlags{DSN: "memory://"})
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()

	if a.tracker == nil || a.flows == nil || a.tokens == nil || a.trees == nil {
		t.Fatalf("expected all services to be wired")
	}
	runs, err := a.tracker.ListTestRuns(context.Background())
	if err != nil {
		t.Fatalf("list test runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected empty store, got %d runs", len(runs))
	}
}

func TestBuildAppRequiresDSN(t *testing.T) {
	if _, err := buildApp(context.Background(), &rootFlags{}); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestPrintListing(t *testing.T) {
	path := "src/appmixer/asana/test-flow-create.json"
	listing := reconcile.Listing{
		Flows: []reconcile.FlowView{
			{FlowID: "f1", Name: "E2E asana - Create", Connector: "asana", Running: true,
				SyncState: reconcile.SyncState{SyncStatus: flowdiff.StatusMatch, GitHubPath: &path}},
			{FlowID: "f2", Name: "Scratch", Connector: "unknown",
				SyncState: reconcile.SyncState{SyncStatus: flowdiff.StatusServerOnly}},
		},
		Stats: reconcile.Stats{Total: 2, Running: 1, Stopped: 1, Match: 1, ServerOnly: 1},
	}
	var buf bytes.Buffer
	if err := printListing(&buf, listing); err != nil {
		t.Fatalf("printListing: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"CONNECTOR", "E2E asana - Create", "running", path, "server_only", "2 flows: 1 running, 1 match"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
