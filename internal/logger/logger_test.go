package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	buf.Reset()
	return line
}

func TestContextFieldsReachEveryLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "cattube-test"})
	ctx := l.WithContext(context.Background())
	ctx = SetComponent(SetJobID(ctx, "job-1"), "batch")
	ctx = WithField(ctx, FieldVideoID, 7)

	CtxInfo(ctx, "polled %d videos", 3)
	line := decodeLine(t, &buf)
	require.Equal(t, "polled 3 videos", line["message"])
	require.Equal(t, "info", line["level"])
	require.Equal(t, "cattube-test", line["service"])
	require.Equal(t, "job-1", line[FieldJobID])
	require.Equal(t, "batch", line[FieldComponent])
	require.EqualValues(t, 7, line[FieldVideoID])
	require.Equal(t, "job-1", GetJobID(ctx))

	With(Fields{FieldGateway: "index"}).WithCount(2).WithStatus("Ready").Warn(ctx, "done")
	line = decodeLine(t, &buf)
	require.Equal(t, "warning", line["level"])
	require.EqualValues(t, 2, line[FieldCount])
	require.Equal(t, "Ready", line[FieldStatus])
	require.Equal(t, "index", line[FieldGateway])
	require.Equal(t, "job-1", line[FieldJobID])
}

func TestLevelFiltersLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "warn", Output: &buf})
	ctx := l.WithContext(context.Background())

	CtxDebug(ctx, "hidden")
	CtxInfo(ctx, "hidden")
	require.Zero(t, buf.Len())

	CtxError(ctx, "shown")
	require.Equal(t, "shown", decodeLine(t, &buf)["message"])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := GetDefault()
	SetDefaultLogger(New(&Config{Output: &buf}))
	t.Cleanup(func() { SetDefaultLogger(prev) })

	SetDefaultLogger(nil)
	FromContext(context.Background()).Info("default")
	require.Equal(t, "default", decodeLine(t, &buf)["message"])
}

func TestEntryWithDoesNotShareFields(t *testing.T) {
	base := With(Fields{"a": 1})
	child := base.With(Fields{"b": 2})
	require.Len(t, base.fields, 1)
	require.Len(t, child.fields, 2)
}
