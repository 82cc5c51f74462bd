package config

import (
	"path/filepath"
	"runtime"
)

// Defaults applied when a field is unset.
const (
	DefaultMaxAttempts   = 3
	DefaultSettleDelay   = "30s"
	DefaultParallelism   = 4
	DefaultProviderID    = "MS DM Server"
	DefaultStatusField   = "JoinState"
	DefaultGraphBaseURL  = "https://graph.microsoft.com/v1.0"
	DefaultAuthorityURL  = "https://login.microsoftonline.com"
	DefaultGraphTimeout  = "30s"
	DefaultGraphRetries  = 3
	DefaultHardMatchSink = "hardmatch"
)

// DefaultJoinCommand triggers an Entra hybrid join.
var DefaultJoinCommand = []string{`C:\Windows\System32\dsregcmd.exe`, "/join"}

// DefaultEnrollCommand triggers Intune auto-enrollment with the device
// credential.
var DefaultEnrollCommand = []string{`C:\Windows\System32\deviceenroller.exe`, "/c", "/AutoEnrollMDM"}

// DefaultStateDir returns the per-platform directory for persisted state.
func DefaultStateDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(`C:\ProgramData`, "convergo")
	}
	return filepath.Join("/var/lib", "convergo")
}

// ApplyDefaults fills unset fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	s := &cfg.Settings
	if s.MaxAttempts == 0 {
		s.MaxAttempts = DefaultMaxAttempts
	}
	if s.SettleDelay == "" {
		s.SettleDelay = DefaultSettleDelay
	}
	if s.Parallelism == 0 {
		s.Parallelism = DefaultParallelism
	}
	if s.StateDir == "" {
		s.StateDir = DefaultStateDir()
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if d := cfg.Device; d != nil {
		if d.ProviderID == "" {
			d.ProviderID = DefaultProviderID
		}
		if d.StatusField == "" {
			d.StatusField = DefaultStatusField
		}
		if len(d.JoinCommand) == 0 {
			d.JoinCommand = append([]string(nil), DefaultJoinCommand...)
		}
		if len(d.EnrollCommand) == 0 {
			d.EnrollCommand = append([]string(nil), DefaultEnrollCommand...)
		}
	}

	if hm := cfg.HardMatch; hm != nil && hm.SinkID == "" {
		hm.SinkID = DefaultHardMatchSink
	}

	if g := cfg.Graph; g != nil {
		if g.BaseURL == "" {
			g.BaseURL = DefaultGraphBaseURL
		}
		if g.AuthorityURL == "" {
			g.AuthorityURL = DefaultAuthorityURL
		}
		if g.Timeout == "" {
			g.Timeout = DefaultGraphTimeout
		}
		if g.MaxRetries == 0 {
			g.MaxRetries = DefaultGraphRetries
		}
	}
}
