package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/myrjola/groupworkout/internal/logging"
)

func TestContextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logging.NewContextHandler(slog.NewTextHandler(&buf, nil)))

	ctx := logging.WithTemplate(context.Background(), "tpl-1", 7)
	ctx = logging.WithClient(ctx, "alice")
	logger.InfoContext(ctx, "allocated")

	got := buf.String()
	for _, want := range []string{"template_id=tpl-1", "seed=7", "client_id=alice", "msg=allocated"} {
		if !strings.Contains(got, want) {
			t.Errorf("log line %q does not contain %q", got, want)
		}
	}
}

func TestWithAttrs_doesNotLeakToParent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(logging.NewContextHandler(slog.NewTextHandler(&buf, nil)))

	parent := logging.WithClient(context.Background(), "alice")
	_ = logging.WithClient(parent, "bob")
	logger.InfoContext(parent, "parent")

	if got := buf.String(); strings.Contains(got, "bob") {
		t.Errorf("parent context picked up child attribute: %q", got)
	}
}
