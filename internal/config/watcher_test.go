package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcdeck/internal/service"
)

func TestWatcherReloadsExternalEdits(t *testing.T) {
	st := NewStore(t.TempDir())
	_, err := st.LoadServices()
	require.NoError(t, err)
	_, err = st.LoadSettings()
	require.NoError(t, err)

	w, err := NewWatcher(st, 50*time.Millisecond)
	require.NoError(t, err)
	specsCh := make(chan []service.Spec, 4)
	settingsCh := make(chan Settings, 4)
	w.OnServices = func(s []service.Spec) { specsCh <- s }
	w.OnSettings = func(s Settings) { settingsCh <- s }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	body := `[{"name":"hand-edited","kind":"other","start_cmd":"true","match_keywords":["x"],"ports":[]}]`
	require.NoError(t, os.WriteFile(st.ServicesPath(), []byte(body), 0o644))

	select {
	case specs := <-specsCh:
		require.Len(t, specs, 1)
		assert.Equal(t, "hand-edited", specs[0].Name)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after external edit")
	}

	require.NoError(t, os.WriteFile(st.SettingsPath(), []byte(`{"update_interval_seconds": 9}`), 0o644))
	select {
	case s := <-settingsCh:
		assert.Equal(t, 9, s.UpdateIntervalSeconds)
	case <-time.After(3 * time.Second):
		t.Fatal("no settings reload")
	}
}

func TestWatcherIgnoresOwnWrites(t *testing.T) {
	st := NewStore(t.TempDir())
	w, err := NewWatcher(st, 20*time.Millisecond)
	require.NoError(t, err)
	called := make(chan struct{}, 1)
	w.OnServices = func([]service.Spec) { called <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	require.NoError(t, st.SaveServices(DefaultServices()))
	select {
	case <-called:
		t.Fatal("store write should not trigger a reload")
	case <-time.After(300 * time.Millisecond):
	}
	cancel()
	<-done
}
