package registry

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tion-home/tionctl/pkg/tion"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	r, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegisterAndGet(t *testing.T) {
	r := openTestRegistry(t)

	d, err := r.Register("AA:BB:CC:DD:EE:FF", "Tion_Breezer_S4_1234", "")
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", d.ID)
	assert.Equal(t, "S4 1234", d.Name, "friendly name derived from the advertised one")
	assert.Equal(t, tion.ModelS4, d.Model)
	assert.True(t, d.Active)
	assert.False(t, d.Paired)

	got, err := r.Get("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, d.Name, got.Name)
}

func TestRegisterIsUpsert(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Register("AA:BB:CC:DD:EE:FF", "Tion_Breezer_S3_0001", "old")
	require.NoError(t, err)
	d, err := r.Register("AA:BB:CC:DD:EE:FF", "Tion_Breezer_S3_0001", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", d.Name)

	devices, err := r.List(true)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestGetNotFound(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListFiltersInactive(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.Register("AA:BB:CC:DD:EE:01", "Tion_Breezer_S3_0001", "one")
	require.NoError(t, err)
	_, err = r.Register("AA:BB:CC:DD:EE:02", "Tion_Breezer_S3_0002", "two")
	require.NoError(t, err)

	require.NoError(t, r.Remove("AA:BB:CC:DD:EE:02"))

	active, err := r.List(false)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := r.List(true)
	require.NoError(t, err)
	assert.Len(t, all, 2, "removal keeps the row for history")
}

func TestSetPairedAndRoom(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.Register("AA:BB:CC:DD:EE:FF", "Tion_Breezer_Lite_7AB0", "")
	require.NoError(t, err)

	require.NoError(t, r.SetPaired("AA:BB:CC:DD:EE:FF", true))
	require.NoError(t, r.SetRoom("AA:BB:CC:DD:EE:FF", "bedroom"))

	d, err := r.Get("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.True(t, d.Paired)
	assert.Equal(t, "bedroom", d.Room)
	assert.Equal(t, tion.ModelLite, d.Model)
}

func TestUpdateMissingDevice(t *testing.T) {
	r := openTestRegistry(t)
	assert.ErrorIs(t, r.Rename("missing", "x"), ErrNotFound)
	assert.ErrorIs(t, r.SetRoom("missing", "x"), ErrNotFound)
	assert.ErrorIs(t, r.Remove("missing"), ErrNotFound)
}

func TestFriendlyName(t *testing.T) {
	assert.Equal(t, "S3 3040", friendlyName("Tion_Breezer_S3_3040", "addr"))
	assert.Equal(t, "lite77", friendlyName("tion_lite77", "addr"))
	assert.Equal(t, "addr", friendlyName("", "addr"))
}
