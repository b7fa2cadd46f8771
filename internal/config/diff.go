package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only log level and alert destinations are applied live; every other changed
// section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DestinationsChanged bool
	NewDestinations     []string

	// RestartRequired names the top-level sections (or fields) whose change
	// only takes effect after a restart.
	RestartRequired []string
}

// HotReloadable reports whether the diff contains anything that can be
// applied without a restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.DestinationsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Alerts.Destinations, new.Alerts.Destinations) {
		d.DestinationsChanged = true
		d.NewDestinations = slices.Clone(new.Alerts.Destinations)
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	restart := []struct {
		name     string
		old, new any
	}{
		{"audio", old.Audio, new.Audio},
		{"providers", old.Providers, new.Providers},
		{"detection", old.Detection, new.Detection},
		{"analysis", old.Analysis, new.Analysis},
		{"storage", old.Storage, new.Storage},
	}
	for _, r := range restart {
		if !reflect.DeepEqual(r.old, r.new) {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}

	oa, na := old.Alerts, new.Alerts
	oa.Destinations, na.Destinations = nil, nil
	if !reflect.DeepEqual(oa, na) {
		d.RestartRequired = append(d.RestartRequired, "alerts")
	}

	return d
}
