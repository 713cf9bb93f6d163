package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerCarriesRunFields(t *testing.T) {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(old)

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithStack(ctx, "docsite")
	ctx = WithStage(ctx, "generate")
	ctx = WithComponent(ctx, "entities")

	Logger(ctx).Info("unit started")

	out := buf.String()
	assert.Contains(t, out, "run.id=run-1")
	assert.Contains(t, out, "stack=docsite")
	assert.Contains(t, out, "stage=generate")
	assert.Contains(t, out, "component=entities")
}

func TestLoggerWithoutContextFields(t *testing.T) {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(old)

	Logger(context.Background()).Info("plain")

	out := buf.String()
	assert.Contains(t, out, "plain")
	assert.NotContains(t, out, "run.id")
}

func TestContextFieldsOverwriteIndependently(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithStage(ctx, "pre_build")
	ctx = WithStage(ctx, "generate")

	lc := extractLogContext(ctx)
	assert.Equal(t, "run-1", lc.RunID)
	assert.Equal(t, "generate", lc.Stage)
}
