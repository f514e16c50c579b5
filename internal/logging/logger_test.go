package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]Level{
		"error": Error,
		"W":     Warn,
		"info":  Info,
		"D":     Debug,
		"trace": MaxLevel,
		"3":     Level(3),
	} {
		got, err := parseLevel(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	_, err := parseLevel("loud")
	assert.Error(t, err)
	_, err = parseLevel("12")
	assert.Error(t, err)
}

func TestLogFiltersByLevel(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	log := New("", &out).WithTag("test").WithDefaultLevel(Info)
	log.Level = Info

	log.Debug("hidden %d", 1)
	log.Info("shown %d", 2)
	log.Error("failed")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], " I/test[logger_test.go:")
	assert.True(t, strings.HasSuffix(lines[0], "shown 2"))
	assert.Contains(t, lines[1], " E/test")
}

func TestConfigureTagLevels(t *testing.T) {
	defer Configure("")

	existing := DefaultLogger.WithTag("rtp")
	Configure("warn,rtp=debug")
	assert.Equal(t, Debug, existing.Level)
	assert.Equal(t, Debug, DefaultLogger.WithTag("rtp").Level)
	assert.Equal(t, Warn, DefaultLogger.WithTag("delivery").Level)
	assert.True(t, existing.Enabled(Debug))
	assert.False(t, existing.Enabled(Level(2)))
}
