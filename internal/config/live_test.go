package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveUpdatePersists(t *testing.T) {
	st := NewStore(t.TempDir())
	base, err := st.LoadSettings()
	require.NoError(t, err)
	live := NewLive(base, st)

	n := 2
	got, err := live.Update(SettingsUpdate{UpdateIntervalSeconds: &n})
	require.NoError(t, err)
	assert.Equal(t, 2, got.UpdateIntervalSeconds)
	assert.Equal(t, 2, live.Get().UpdateIntervalSeconds)

	reloaded, err := st.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.UpdateIntervalSeconds)
	assert.True(t, reloaded.CheckPortConflicts)
}

func TestLiveGetIsACopy(t *testing.T) {
	live := NewLive(DefaultSettings(), nil)
	s := live.Get()
	s.StoragePaths["logs"] = "changed"
	assert.Equal(t, "./logs", live.Get().StoragePaths["logs"])

	live.Set(Settings{UpdateIntervalSeconds: 7})
	assert.Equal(t, 7*time.Second, live.Get().Interval())
}
