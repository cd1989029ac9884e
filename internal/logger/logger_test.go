package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"", LevelInfo, false},
		{" info ", LevelInfo, false},
		{"warning", LevelWarning, false},
		{"WARN", LevelWarning, false},
		{"error", LevelError, false},
		{"fatal", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(t.Context(), Options{Level: "debug", Format: "json", Output: &buf}))

	Debug("rule created", "rule_id", "r1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rule created", entry["msg"])
	assert.Equal(t, "r1", entry["rule_id"])
	assert.Equal(t, LevelDebug, GetLevel())
}

func TestSetupTextRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(t.Context(), Options{Level: "warn", Format: "text", Output: &buf}))

	Info("hidden")
	Warn("shown", "component", "ingest")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "msg=shown"), out)
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	err := Setup(t.Context(), Options{Format: "xml"})
	assert.Error(t, err)
}

func TestSamplingStillCounts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Setup(t.Context(), Options{Format: "json", Output: &buf, SampleRate: 1_000_000}))

	before := TotalErrors.Load()
	for i := 0; i < 10; i++ {
		Error("store unavailable")
	}
	assert.Equal(t, before+10, TotalErrors.Load())
}

func TestHTTPCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterCounters(reg))

	before404 := Total404Errors.Load()
	before503 := Total503Errors.Load()
	WarnHttp4xx(404)
	ErrorHttp5xx(503)

	assert.Equal(t, before404+1, Total404Errors.Load())
	assert.Equal(t, before503+1, Total503Errors.Load())

	count, err := testutil.GatherAndCount(reg, "routing_http_responses_404_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
