package config

import (
	"encoding/json"
	"time"
)

const (
	DefaultRetentionDays  = 30
	DefaultUpdateInterval = 5
	MinUpdateInterval     = 1
	DefaultAPIBaseURL     = "http://localhost:8765"
)

// Settings is the operator-editable runtime configuration persisted in
// settings.json.
type Settings struct {
	StoragePaths map[string]string `json:"storage_paths"`
	// ScheduledTasks are stored and returned untouched.
	ScheduledTasks []json.RawMessage `json:"scheduled_tasks"`
	// StatsRetentionDays is persisted but not enforced.
	StatsRetentionDays     int    `json:"stats_retention_days"`
	AutoRestartOnFailure   bool   `json:"auto_restart_on_failure"`
	CheckPortConflicts     bool   `json:"check_port_conflicts"`
	DefaultTailscaleDomain string `json:"default_tailscale_domain"`
	UpdateIntervalSeconds  int    `json:"update_interval_seconds"`
	APIBaseURL             string `json:"api_base_url"`
}

// DefaultSettings is what a first run writes.
func DefaultSettings() Settings {
	return Settings{
		StoragePaths: map[string]string{
			"logs":    "./logs",
			"data":    "./data",
			"backups": "./backups",
		},
		ScheduledTasks:        []json.RawMessage{},
		StatsRetentionDays:    DefaultRetentionDays,
		CheckPortConflicts:    true,
		UpdateIntervalSeconds: DefaultUpdateInterval,
		APIBaseURL:            DefaultAPIBaseURL,
	}
}

// Interval returns the broadcast interval, never below MinUpdateInterval
// seconds.
func (s Settings) Interval() time.Duration {
	n := s.UpdateIntervalSeconds
	if n < MinUpdateInterval {
		n = MinUpdateInterval
	}
	return time.Duration(n) * time.Second
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	c.StoragePaths = make(map[string]string, len(s.StoragePaths))
	for k, v := range s.StoragePaths {
		c.StoragePaths[k] = v
	}
	c.ScheduledTasks = make([]json.RawMessage, len(s.ScheduledTasks))
	for i, t := range s.ScheduledTasks {
		c.ScheduledTasks[i] = append(json.RawMessage(nil), t...)
	}
	return c
}

// SettingsUpdate is a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	StoragePaths           *map[string]string `json:"storage_paths,omitempty"`
	ScheduledTasks         *[]json.RawMessage `json:"scheduled_tasks,omitempty"`
	StatsRetentionDays     *int               `json:"stats_retention_days,omitempty"`
	AutoRestartOnFailure   *bool              `json:"auto_restart_on_failure,omitempty"`
	CheckPortConflicts     *bool              `json:"check_port_conflicts,omitempty"`
	DefaultTailscaleDomain *string            `json:"default_tailscale_domain,omitempty"`
	UpdateIntervalSeconds  *int               `json:"update_interval_seconds,omitempty"`
	APIBaseURL             *string            `json:"api_base_url,omitempty"`
}

// Apply returns s with every provided field of u overwritten.
func (u SettingsUpdate) Apply(s Settings) Settings {
	out := s.Clone()
	if u.StoragePaths != nil {
		out.StoragePaths = make(map[string]string, len(*u.StoragePaths))
		for k, v := range *u.StoragePaths {
			out.StoragePaths[k] = v
		}
	}
	if u.ScheduledTasks != nil {
		out.ScheduledTasks = append([]json.RawMessage{}, *u.ScheduledTasks...)
	}
	if u.StatsRetentionDays != nil {
		out.StatsRetentionDays = *u.StatsRetentionDays
	}
	if u.AutoRestartOnFailure != nil {
		out.AutoRestartOnFailure = *u.AutoRestartOnFailure
	}
	if u.CheckPortConflicts != nil {
		out.CheckPortConflicts = *u.CheckPortConflicts
	}
	if u.DefaultTailscaleDomain != nil {
		out.DefaultTailscaleDomain = *u.DefaultTailscaleDomain
	}
	if u.UpdateIntervalSeconds != nil {
		out.UpdateIntervalSeconds = *u.UpdateIntervalSeconds
	}
	if u.APIBaseURL != nil {
		out.APIBaseURL = *u.APIBaseURL
	}
	return out
}
