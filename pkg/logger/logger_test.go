package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		level         string
		expectedLevel zerolog.Level
		name          string
	}{
		{"debug", zerolog.DebugLevel, "debug"},
		{"info", zerolog.InfoLevel, "info"},
		{"warn", zerolog.WarnLevel, "warn"},
		{"WARNING", zerolog.WarnLevel, "warning upper case"},
		{"error", zerolog.ErrorLevel, "error"},
		{"off", zerolog.Disabled, "off"},
		{"unknown", zerolog.InfoLevel, "unknown defaults to info"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedLevel, ParseLevel(tc.level))
		})
	}
}

func TestNew_WritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	log.Info().Str("component", "allocator").Msg("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), `"component":"allocator"`)
}

func TestNew_LevelIsPerLogger(t *testing.T) {
	var buf bytes.Buffer
	before := zerolog.GlobalLevel()

	log := New(Config{Level: "error", Output: &buf})

	log.Info().Msg("should not appear")
	log.Error().Msg("should appear")

	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear")
	assert.Equal(t, before, zerolog.GlobalLevel(), "global level must not change")
}

func TestNew_LeavesTimeFieldFormat(t *testing.T) {
	before := zerolog.TimeFieldFormat
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	t.Cleanup(func() { zerolog.TimeFieldFormat = before })

	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})
	log.Info().Msg("unix time")

	assert.Equal(t, zerolog.TimeFormatUnix, zerolog.TimeFieldFormat)
	assert.Regexp(t, `"time":\d+`, buf.String())
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Pretty: true, Output: &buf})

	log.Warn().Str("key", "value").Msg("pretty test")

	output := buf.String()
	assert.NotEmpty(t, output)
	assert.Contains(t, strings.ToLower(output), "pretty test")
	assert.NotContains(t, output, `"message"`, "console writer should not emit JSON")
}

func TestNew_AddsTimestamp(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	log.Info().Msg("stamped")

	assert.Contains(t, buf.String(), `"time":`)
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Warn().Msg("discarded")
	assert.Equal(t, zerolog.Disabled, log.GetLevel())
}
