package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDurationFromMS(t *testing.T) {
	require.Equal(t, 250*time.Millisecond, durationFromMS(250))
	require.Equal(t, time.Duration(0), durationFromMS(0))
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := newLogger("not-a-level")
	require.Error(t, err)
}

func TestNewLoggerAcceptsKnownLevel(t *testing.T) {
	log, err := newLogger("debug")
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestConfigErrorWrapsUnderlyingError(t *testing.T) {
	inner := errors.New("boom")
	err := configError{inner}

	require.Equal(t, "boom", err.Error())
	require.True(t, errors.Is(err, inner))
}

func TestRunRejectsMissingTopologyFiles(t *testing.T) {
	err := run(Cmd{}, nil)

	var cfgErr configError
	require.True(t, errors.As(err, &cfgErr), "an empty topology list is a configuration error, not a run failure")
}

func TestRunRejectsUnknownConfigPath(t *testing.T) {
	err := run(Cmd{ConfigPath: "/no/such/file.yaml"}, []string{"topology.xml"})

	var cfgErr configError
	require.True(t, errors.As(err, &cfgErr))
}
