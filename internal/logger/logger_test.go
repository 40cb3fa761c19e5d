package logger_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logger.DebugLevel, logger.ParseLevel("debug"))
	assert.Equal(t, logger.WarnLevel, logger.ParseLevel("warning"))
	assert.Equal(t, logger.ErrorLevel, logger.ParseLevel("error"))
	assert.Equal(t, logger.InfoLevel, logger.ParseLevel("bogus"))
}

func TestErrorWithCode(t *testing.T) {
	logger.SetLogLevel(logger.DebugLevel)
	var buf bytes.Buffer
	log := logger.New(&buf).With("control")

	log.ErrorWithCode(errors.New().New(errors.ErrTimeout)).Msg("write failed")

	out := buf.String()
	assert.Contains(t, out, `"component":"control"`)
	assert.Contains(t, out, `"error_code":"control_timeout"`)
	assert.Contains(t, out, "write failed")
}
