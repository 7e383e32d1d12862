package observ

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogWritesEventJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewLogger(&buf, zerolog.DebugLevel))
	defer SetLogger(prev)

	Log("cache_sweep_completed", map[string]any{"removed": 3})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cache_sweep_completed", line["event"])
	assert.Equal(t, "info", line["level"])
	assert.EqualValues(t, 3, line["removed"])
	assert.Contains(t, line, "time")
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	SetLogger(NewLogger(&buf, zerolog.InfoLevel))
	defer SetLogger(prev)

	Debug("hidden", nil)
	assert.Empty(t, buf.String())

	Error("fetch_failed", errors.New("boom"), map[string]any{"key": "AAPL"})
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "boom", line["error"])

	require.NoError(t, SetLevel("warn"))
	buf.Reset()
	Log("suppressed", nil)
	assert.Empty(t, buf.String())

	assert.Error(t, SetLevel("chatty"))
}

func TestCountersAndGauges(t *testing.T) {
	Reset()
	defer Reset()

	IncCounter("cache_hit_total", map[string]string{"tier": "realtime"})
	IncCounter("cache_hit_total", map[string]string{"tier": "realtime"})
	IncCounterBy("cache_hit_total", map[string]string{"tier": "market"}, 3)

	assert.EqualValues(t, 2, CounterValue("cache_hit_total", map[string]string{"tier": "realtime"}))
	assert.EqualValues(t, 5, CounterTotal("cache_hit_total"))

	SetGauge("cache_size", 7, map[string]string{"tier": "search"})
	v, ok := GaugeValue("cache_size", map[string]string{"tier": "search"})
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
}

func TestLabelOrderIsCanonical(t *testing.T) {
	Reset()
	defer Reset()

	IncCounter("x_total", map[string]string{"a": "1", "b": "2"})
	IncCounter("x_total", map[string]string{"b": "2", "a": "1"})
	assert.EqualValues(t, 2, CounterValue("x_total", map[string]string{"a": "1", "b": "2"}))
}

func TestPercentileAndBoundedSamples(t *testing.T) {
	Reset()
	defer Reset()

	for i := 1; i <= maxSamples+100; i++ {
		Observe("latency_ms", float64(i), nil)
	}
	p, ok := Percentile("latency_ms", nil, 0.0)
	require.True(t, ok)
	assert.Equal(t, 101.0, p, "oldest samples are dropped")

	_, ok = Percentile("missing", nil, 0.5)
	assert.False(t, ok)
}

func TestHandlerDumpsRegistry(t *testing.T) {
	Reset()
	defer Reset()
	IncCounter("fetch_result_total", map[string]string{"source": "mock"})

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fetch_result_total")
	assert.Contains(t, rec.Body.String(), "source=mock")
}
