package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/koscakluka/duet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEndpoint(t *testing.T) {
	testCases := []struct {
		raw      string
		endpoint string
		insecure bool
	}{
		{raw: "collector:4318", endpoint: "collector:4318", insecure: true},
		{raw: "http://collector:4318/", endpoint: "collector:4318", insecure: true},
		{raw: "https://otel.example.com", endpoint: "otel.example.com", insecure: false},
	}

	for _, testCase := range testCases {
		endpoint, insecure := normalizeEndpoint(testCase.raw)
		assert.Equal(t, testCase.endpoint, endpoint, testCase.raw)
		assert.Equal(t, testCase.insecure, insecure, testCase.raw)
	}
}

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders("authorization=Bearer abc, x-team = duet ,broken,empty=")

	assert.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-team":        "duet",
	}, headers)
	assert.Empty(t, parseHeaders(""))
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "turn", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "shown", record["msg"])
	assert.Equal(t, float64(3), record["turn"])
}

func TestNewLoggerRejectsUnknownSettings(t *testing.T) {
	_, err := NewLogger(io.Discard, "loud", "text")
	assert.Error(t, err)

	_, err = NewLogger(io.Discard, "info", "xml")
	assert.Error(t, err)
}

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), &config.Config{ServiceName: "duet"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
