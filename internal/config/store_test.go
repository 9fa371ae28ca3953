package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcdeck/internal/service"
)

func TestLoadServicesCreatesDefault(t *testing.T) {
	st := NewStore(t.TempDir())
	specs, err := st.LoadServices()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "FastAPI Backend", specs[0].Name)
	assert.Equal(t, []int{8000}, specs[0].Ports)
	assert.Equal(t, []string{"uvicorn", "main:app"}, specs[0].MatchKeywords)

	b, err := os.ReadFile(st.ServicesPath())
	require.NoError(t, err)
	assert.Contains(t, string(b), "\n  {\n    \"name\": \"FastAPI Backend\"")

	again, err := st.LoadServices()
	require.NoError(t, err)
	assert.Equal(t, specs, again)
}

func TestServicesRoundTripKeepsWireNames(t *testing.T) {
	st := NewStore(t.TempDir())
	in := []service.Spec{{
		Name:          "web",
		Kind:          service.KindFrontend,
		StartCmd:      "npm run dev",
		WorkingDir:    "/srv/web",
		MatchKeywords: []string{"vite"},
		Ports:         []int{5173},
		TailscaleURL:  "http://box.tail:5173",
	}}
	require.NoError(t, st.SaveServices(in))

	var raw []map[string]any
	b, err := os.ReadFile(st.ServicesPath())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, k := range []string{"name", "kind", "start_cmd", "working_dir", "match_keywords", "ports", "tailscale_url"} {
		assert.Contains(t, raw[0], k)
	}

	out, err := st.LoadServices()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadServicesNullOptionals(t *testing.T) {
	dir := t.TempDir()
	body := `[{"name":"a","kind":"other","start_cmd":"x","working_dir":null,"match_keywords":[],"ports":[],"api_url":null}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ServicesFile), []byte(body), 0o644))
	specs, err := NewStore(dir).LoadServices()
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Empty(t, specs[0].WorkingDir)
}

func TestLoadServicesInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ServicesFile), []byte("{"), 0o644))
	_, err := NewStore(dir).LoadServices()
	assert.Error(t, err)
}

func TestLoadSettingsDefaultsAndPartialFile(t *testing.T) {
	st := NewStore(t.TempDir())
	s, err := st.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
	assert.Equal(t, "./logs", s.StoragePaths["logs"])
	_, err = os.Stat(st.SettingsPath())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(st.SettingsPath(), []byte(`{"update_interval_seconds": 0}`), 0o644))
	s, err = st.LoadSettings()
	require.NoError(t, err)
	assert.True(t, s.CheckPortConflicts, "missing fields keep defaults")
	assert.Equal(t, 30, s.StatsRetentionDays)
	assert.Equal(t, 0, s.UpdateIntervalSeconds)
	assert.Equal(t, time.Duration(MinUpdateInterval)*time.Second, s.Interval())
}

func TestSettingsUpdateApply(t *testing.T) {
	base := DefaultSettings()
	interval := 10
	off := false
	u := SettingsUpdate{UpdateIntervalSeconds: &interval, CheckPortConflicts: &off}
	got := u.Apply(base)
	assert.Equal(t, 10, got.UpdateIntervalSeconds)
	assert.False(t, got.CheckPortConflicts)
	assert.Equal(t, base.APIBaseURL, got.APIBaseURL)
	assert.Equal(t, base.StoragePaths, got.StoragePaths)

	paths := map[string]string{"logs": "/var/log/svc"}
	got = SettingsUpdate{StoragePaths: &paths}.Apply(got)
	assert.Equal(t, paths, got.StoragePaths)
	paths["logs"] = "mutated"
	assert.Equal(t, "/var/log/svc", got.StoragePaths["logs"])
	assert.Equal(t, "./logs", base.StoragePaths["logs"], "base untouched")
}

func TestSettingsUpdateFromJSON(t *testing.T) {
	var u SettingsUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"default_tailscale_domain":"box.tail","scheduled_tasks":[{"name":"n"}]}`), &u))
	got := u.Apply(DefaultSettings())
	assert.Equal(t, "box.tail", got.DefaultTailscaleDomain)
	require.Len(t, got.ScheduledTasks, 1)
	assert.JSONEq(t, `{"name":"n"}`, string(got.ScheduledTasks[0]))
	assert.Equal(t, DefaultUpdateInterval, got.UpdateIntervalSeconds)
}

func TestIsOwnWrite(t *testing.T) {
	st := NewStore(t.TempDir())
	require.NoError(t, st.SaveServices(DefaultServices()))
	b, err := os.ReadFile(st.ServicesPath())
	require.NoError(t, err)
	assert.True(t, st.IsOwnWrite(st.ServicesPath(), b))
	assert.False(t, st.IsOwnWrite(st.ServicesPath(), append(b, ' ')))
	assert.False(t, st.IsOwnWrite(st.SettingsPath(), b))
}
