package logging

import (
	"bytes"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"debug":   logger.DEBUG,
		"INFO":    logger.INFO,
		"warn":    logger.WARNING,
		"warning": logger.WARNING,
		"error":   logger.ERROR,
	}
	for in, want := range cases {
		got, err := ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
	assert.Error(t, InitLoggers("verbose"))
}

func TestFactoryFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewFactory(&buf)("dmap")

	l.Infof("hidden %d", 1)
	assert.Empty(t, buf.String(), "default level is WARNING")

	l.Warningf("fragment %s missing", "a-0")
	assert.Contains(t, buf.String(), "WARN  | dmap     | fragment a-0 missing")

	buf.Reset()
	l.SetLevel(logger.DEBUG)
	l.Debugf("overwrite")
	assert.Contains(t, buf.String(), "DEBUG | dmap")

	buf.Reset()
	l.SetLevel(logger.ERROR)
	l.Warningf("suppressed")
	assert.Empty(t, buf.String())
}
