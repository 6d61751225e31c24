package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the sections
// that can be applied without a restart are tracked individually; every
// other changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	GateChanged        bool
	RecognitionChanged bool
	SpeakerChanged     bool
	QueueChanged       bool

	// RestartRequired names changed sections that only take effect after a
	// restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.GateChanged || d.RecognitionChanged || d.SpeakerChanged || d.QueueChanged
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.GateChanged = !reflect.DeepEqual(old.Gate, new.Gate)
	d.SpeakerChanged = old.Speaker.Rate != new.Speaker.Rate ||
		old.Speaker.Pitch != new.Speaker.Pitch

	// The sample rate and audio level flag are fixed per capture device.
	oldRec, newRec := old.Recognition, new.Recognition
	if oldRec.SampleRate != newRec.SampleRate || oldRec.AudioLevel != newRec.AudioLevel {
		d.RestartRequired = append(d.RestartRequired, "recognition")
	}
	oldRec.SampleRate, oldRec.AudioLevel = newRec.SampleRate, newRec.AudioLevel
	d.RecognitionChanged = !reflect.DeepEqual(oldRec, newRec)

	if old.Queue.MaxRetries != new.Queue.MaxRetries {
		d.QueueChanged = true
	}
	if old.Queue.SyncInterval != new.Queue.SyncInterval || old.Queue.StorageKey != new.Queue.StorageKey {
		d.RestartRequired = append(d.RestartRequired, "queue")
	}

	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	restart := []struct {
		name     string
		old, new any
	}{
		{"server", oldSrv, newSrv},
		{"providers", old.Providers, new.Providers},
		{"storage", old.Storage, new.Storage},
		{"executor", old.Executor, new.Executor},
		{"network", old.Network, new.Network},
		{"audio", old.Audio, new.Audio},
		{"speaker.voice", voiceOf(old.Speaker), voiceOf(new.Speaker)},
	}
	for _, r := range restart {
		if !reflect.DeepEqual(r.old, r.new) {
			d.RestartRequired = append(d.RestartRequired, r.name)
		}
	}
	return d
}

func voiceOf(s SpeakerConfig) SpeakerConfig {
	s.Rate, s.Pitch = 0, 0
	return s
}
