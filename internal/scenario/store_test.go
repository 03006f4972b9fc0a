package scenario

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tion-home/tionctl/pkg/tion"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intPtr(v int) *int { return &v }

func modePtr(m tion.Mode) *tion.Mode { return &m }

func TestAddAndGetTimeScenario(t *testing.T) {
	s := openTestStore(t)

	added, err := s.Add(Scenario{
		Name:     "night",
		DeviceID: "AA:BB:CC:DD:EE:FF",
		Trigger:  TriggerTime,
		CronSpec: "0 23 * * *",
		Action:   Action{SetSpeed: intPtr(1)},
	})
	require.NoError(t, err)
	require.NotEmpty(t, added.ID)
	assert.True(t, added.Enabled)

	got, err := s.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, "night", got.Name)
	assert.Equal(t, TriggerTime, got.Trigger)
	assert.Equal(t, "0 23 * * *", got.CronSpec)
	require.NotNil(t, got.Action.SetSpeed)
	assert.Equal(t, 1, *got.Action.SetSpeed)
	assert.Nil(t, got.Action.SetMode)
	assert.True(t, got.LastRun.IsZero())
}

func TestAddAndGetSensorScenario(t *testing.T) {
	s := openTestStore(t)

	added, err := s.Add(Scenario{
		Name:     "stuffy",
		DeviceID: "AA:BB:CC:DD:EE:FF",
		Trigger:  TriggerSensor,
		Cond:     Condition{Metric: MetricCO2, Above: true, Threshold: 900},
		Action:   Action{SetSpeed: intPtr(4), SetMode: modePtr(tion.ModeOutside)},
	})
	require.NoError(t, err)

	got, err := s.Get(added.ID)
	require.NoError(t, err)
	assert.Equal(t, MetricCO2, got.Cond.Metric)
	assert.True(t, got.Cond.Above)
	assert.Equal(t, 900, got.Cond.Threshold)
	require.NotNil(t, got.Action.SetMode)
	assert.Equal(t, tion.ModeOutside, *got.Action.SetMode)
}

func TestAddValidation(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Add(Scenario{Name: "x", DeviceID: "d", Trigger: TriggerTime, Action: Action{SetSpeed: intPtr(1)}})
	assert.Error(t, err, "time trigger needs a cron spec")

	_, err = s.Add(Scenario{Name: "x", DeviceID: "d", Trigger: TriggerSensor,
		Cond: Condition{Metric: "pollen", Above: true}, Action: Action{SetSpeed: intPtr(1)}})
	assert.Error(t, err, "unknown metric")

	_, err = s.Add(Scenario{Name: "x", DeviceID: "d", Trigger: TriggerTime, CronSpec: "* * * * *"})
	assert.Error(t, err, "needs at least one action")

	_, err = s.Add(Scenario{Name: "x", Trigger: TriggerTime, CronSpec: "* * * * *", Action: Action{SetSpeed: intPtr(1)}})
	assert.Error(t, err, "needs a device")
}

func TestListFiltersDisabled(t *testing.T) {
	s := openTestStore(t)

	a, err := s.Add(Scenario{Name: "a", DeviceID: "d", Trigger: TriggerTime, CronSpec: "* * * * *", Action: Action{SetSpeed: intPtr(1)}})
	require.NoError(t, err)
	_, err = s.Add(Scenario{Name: "b", DeviceID: "d", Trigger: TriggerTime, CronSpec: "* * * * *", Action: Action{SetSpeed: intPtr(2)}})
	require.NoError(t, err)

	require.NoError(t, s.SetEnabled(a.ID, false))

	enabled, err := s.List(false)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
	assert.Equal(t, "b", enabled[0].Name)

	all, err := s.List(true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	a, err := s.Add(Scenario{Name: "a", DeviceID: "d", Trigger: TriggerTime, CronSpec: "* * * * *", Action: Action{SetSpeed: intPtr(1)}})
	require.NoError(t, err)

	require.NoError(t, s.Delete(a.ID))
	_, err = s.Get(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(a.ID), ErrNotFound)
}

func TestMarkRun(t *testing.T) {
	s := openTestStore(t)
	a, err := s.Add(Scenario{Name: "a", DeviceID: "d", Trigger: TriggerTime, CronSpec: "* * * * *", Action: Action{SetSpeed: intPtr(1)}})
	require.NoError(t, err)

	ranAt := time.Now()
	require.NoError(t, s.MarkRun(a.ID, ranAt))

	got, err := s.Get(a.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, ranAt, got.LastRun, time.Second)
}

func TestConditionMatches(t *testing.T) {
	r := tion.Reading{CO2: 950, InTemp: 17, Humidity: 40}

	match, err := Condition{Metric: MetricCO2, Above: true, Threshold: 900}.Matches(r)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = Condition{Metric: MetricCO2, Above: true, Threshold: 1000}.Matches(r)
	require.NoError(t, err)
	assert.False(t, match)

	match, err = Condition{Metric: MetricInTemp, Above: false, Threshold: 18}.Matches(r)
	require.NoError(t, err)
	assert.True(t, match)

	_, err = Condition{Metric: "pollen", Above: true}.Matches(r)
	assert.Error(t, err)
}
