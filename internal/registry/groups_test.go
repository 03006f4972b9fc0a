package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerPair(t *testing.T, r *Registry) (string, string) {
	t.Helper()
	a, err := r.Register("AA:BB:CC:DD:EE:01", "Tion_Breezer_S3_0001", "bedroom")
	require.NoError(t, err)
	b, err := r.Register("AA:BB:CC:DD:EE:02", "Tion_Breezer_Lite_0002", "nursery")
	require.NoError(t, err)
	return a.ID, b.ID
}

func TestCreateAndGetGroup(t *testing.T) {
	r := openTestRegistry(t)
	a, b := registerPair(t, r)

	g, err := r.CreateGroup("bedrooms", []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, "bedrooms", g.Name)
	assert.Equal(t, []string{a, b}, g.DeviceIDs)
	assert.True(t, g.Active)
	assert.False(t, g.Created.IsZero())

	got, err := r.GetGroup(g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.DeviceIDs, got.DeviceIDs)
}

func TestCreateGroupValidation(t *testing.T) {
	r := openTestRegistry(t)
	a, _ := registerPair(t, r)

	_, err := r.CreateGroup("", []string{a})
	assert.Error(t, err, "name is required")

	_, err = r.CreateGroup("empty", nil)
	assert.Error(t, err, "at least one device")

	_, err = r.CreateGroup("ghosts", []string{"11:22:33:44:55:66"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound, "members must be registered devices")
}

func TestGroupsFiltersInactive(t *testing.T) {
	r := openTestRegistry(t)
	a, b := registerPair(t, r)

	g1, err := r.CreateGroup("bedrooms", []string{a, b})
	require.NoError(t, err)
	g2, err := r.CreateGroup("nursery", []string{b})
	require.NoError(t, err)

	require.NoError(t, r.RemoveGroup(g2.ID))

	active, err := r.Groups(false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, g1.ID, active[0].ID)

	all, err := r.Groups(true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetGroupDevicesAndRename(t *testing.T) {
	r := openTestRegistry(t)
	a, b := registerPair(t, r)

	g, err := r.CreateGroup("bedrooms", []string{a})
	require.NoError(t, err)

	require.NoError(t, r.SetGroupDevices(g.ID, []string{a, b}))
	require.NoError(t, r.RenameGroup(g.ID, "whole flat"))

	got, err := r.GetGroup(g.ID)
	require.NoError(t, err)
	assert.Equal(t, "whole flat", got.Name)
	assert.Equal(t, []string{a, b}, got.DeviceIDs)

	err = r.SetGroupDevices(g.ID, nil)
	assert.Error(t, err, "a group cannot be emptied")
}

func TestUpdateMissingGroup(t *testing.T) {
	r := openTestRegistry(t)

	assert.ErrorIs(t, r.RenameGroup(99, "ghost"), ErrGroupNotFound)
	assert.ErrorIs(t, r.RemoveGroup(99), ErrGroupNotFound)

	_, err := r.GetGroup(99)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}
