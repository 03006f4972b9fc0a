package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tion-home/tionctl/internal/scenario"
	"github.com/tion-home/tionctl/pkg/tion"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatUserError(t *testing.T) {
	t.Run("connect error", func(t *testing.T) {
		err := &tion.ConnectError{Address: "AA:BB", Attempts: 8, Err: errors.New("dial timeout")}
		msg := FormatUserError(err)
		assert.Contains(t, msg, "AA:BB")
		assert.Contains(t, msg, "8 attempts")
		assert.Contains(t, msg, "in range")
	})

	t.Run("protocol error", func(t *testing.T) {
		err := &tion.ProtocolError{Address: "AA:BB", Reason: "checksum mismatch"}
		msg := FormatUserError(err)
		assert.Contains(t, msg, "checksum mismatch")
		assert.Contains(t, msg, "power-cycling")
	})

	t.Run("stale data", func(t *testing.T) {
		err := &tion.StaleDataError{Address: "AA:BB", Age: "42s", Err: errors.New("link loss")}
		msg := FormatUserError(err)
		assert.Contains(t, msg, "42s")
	})

	t.Run("cancelled", func(t *testing.T) {
		assert.Equal(t, "command cancelled", FormatUserError(tion.ErrCancelled))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, "boom", FormatUserError(errors.New("boom")))
	})
}

func TestLooksLikeAddress(t *testing.T) {
	assert.True(t, looksLikeAddress("AA:BB:CC:DD:EE:FF"))
	assert.True(t, looksLikeAddress("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	assert.False(t, looksLikeAddress("bedroom"))
	assert.False(t, looksLikeAddress("AA:BB"))
}

func TestParseCondition(t *testing.T) {
	cond, err := parseCondition("co2>900")
	require.NoError(t, err)
	assert.Equal(t, scenario.MetricCO2, cond.Metric)
	assert.True(t, cond.Above)
	assert.Equal(t, 900, cond.Threshold)

	cond, err = parseCondition("in_temp < 18")
	require.NoError(t, err)
	assert.Equal(t, scenario.MetricInTemp, cond.Metric)
	assert.False(t, cond.Above)
	assert.Equal(t, 18, cond.Threshold)

	_, err = parseCondition("co2=900")
	assert.Error(t, err)
	_, err = parseCondition("co2>hot")
	assert.Error(t, err)
}
