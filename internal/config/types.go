package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full convergo configuration document.
type Config struct {
	Version   string     `yaml:"version" validate:"required,semver"`
	Name      string     `yaml:"name,omitempty" validate:"omitempty,max=100"`
	Settings  Settings   `yaml:"settings,omitempty"`
	Logging   Logging    `yaml:"logging,omitempty"`
	Device    *Device    `yaml:"device,omitempty"`
	Targets   []Target   `yaml:"targets,omitempty" validate:"omitempty,dive"`
	HardMatch *HardMatch `yaml:"hardmatch,omitempty"`
	Graph     *Graph     `yaml:"graph,omitempty"`
	Sinks     Sinks      `yaml:"sinks,omitempty"`
	Metrics   Metrics    `yaml:"metrics,omitempty"`
}

// Settings holds global reconciliation parameters.
type Settings struct {
	MaxAttempts         int      `yaml:"max_attempts,omitempty" validate:"omitempty,min=1,max=20"`
	SettleDelay         string   `yaml:"settle_delay,omitempty" validate:"omitempty,duration"`
	DryRun              bool     `yaml:"dry_run,omitempty"`
	Parallelism         int      `yaml:"parallelism,omitempty" validate:"omitempty,min=1,max=64"`
	EscalationThreshold int      `yaml:"escalation_threshold,omitempty" validate:"omitempty,min=1"`
	EscalationCommand   []string `yaml:"escalation_command,omitempty"`
	StateDir            string   `yaml:"state_dir,omitempty"`
}

// SettleDelayDuration returns the parsed settle delay. Validation guarantees
// the string parses.
func (s Settings) SettleDelayDuration() time.Duration {
	d, err := time.ParseDuration(s.SettleDelay)
	if err != nil {
		return 0
	}
	return d
}

// Logging configures the structured logger.
type Logging struct {
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=json console"`
}

// Device configures the Entra join and Intune enrollment targets.
type Device struct {
	TenantID          string   `yaml:"tenant_id,omitempty" validate:"omitempty,uuid"`
	RequireDomainJoin *bool    `yaml:"require_domain_join,omitempty"`
	MinOSBuild        string   `yaml:"min_os_build,omitempty" validate:"omitempty,osversion"`
	ProviderID        string   `yaml:"provider_id,omitempty"`
	StatusField       string   `yaml:"status_field,omitempty"`
	SkipEntra         bool     `yaml:"skip_entra,omitempty"`
	SkipIntune        bool     `yaml:"skip_intune,omitempty"`
	JoinCommand       []string `yaml:"join_command,omitempty" validate:"omitempty,min=1"`
	EnrollCommand     []string `yaml:"enroll_command,omitempty" validate:"omitempty,min=1"`
}

// DomainJoinRequired reports whether the on-premises join gate applies.
func (d Device) DomainJoinRequired() bool {
	return d.RequireDomainJoin == nil || *d.RequireDomainJoin
}

// Target is a free-form convergence target, typically a registry flag.
type Target struct {
	ID      string            `yaml:"id" validate:"required,target_id"`
	Kind    string            `yaml:"kind" validate:"required,target_kind"`
	Desired string            `yaml:"desired" validate:"required"`
	Params  map[string]string `yaml:"params,omitempty"`
	Enabled bool              `yaml:"enabled,omitempty"`
}

// UnmarshalYAML defaults Enabled to true.
func (t *Target) UnmarshalYAML(value *yaml.Node) error {
	type rawTarget Target
	temp := rawTarget{Enabled: true}
	if err := value.Decode(&temp); err != nil {
		return err
	}
	*t = Target(temp)
	return nil
}

// HardMatch configures the directory hard-match workflow.
type HardMatch struct {
	Domain            string              `yaml:"domain" validate:"required,fqdn"`
	Nicknames         bool                `yaml:"nicknames,omitempty"`
	NicknameFile      string              `yaml:"nickname_file,omitempty"`
	NicknameOverrides map[string][]string `yaml:"nickname_overrides,omitempty"`
	PrincipalsFile    string              `yaml:"principals_file" validate:"required"`
	EnabledOnly       bool                `yaml:"enabled_only,omitempty"`
	Users             []string            `yaml:"users,omitempty"`
	SinkID            string              `yaml:"sink_id,omitempty"`
}

// Graph configures the cloud directory client.
type Graph struct {
	TenantID     string `yaml:"tenant_id" validate:"required"`
	ClientID     string `yaml:"client_id" validate:"required"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	AuthorityURL string `yaml:"authority_url,omitempty" validate:"omitempty,url"`
	Timeout      string `yaml:"timeout,omitempty" validate:"omitempty,duration"`
	MaxRetries   uint   `yaml:"max_retries,omitempty" validate:"omitempty,max=10"`
}

// Sinks configures where outcomes are reported.
type Sinks struct {
	CSVDir     string   `yaml:"csv_dir,omitempty"`
	StatusFile string   `yaml:"status_file,omitempty"`
	RMM        *RMMSink `yaml:"rmm,omitempty"`
	Git        *GitSink `yaml:"git,omitempty"`
}

// RMMSink invokes a monitoring agent CLI to set custom fields. Args may use
// the {field} and {value} placeholders.
type RMMSink struct {
	Command string   `yaml:"command" validate:"required"`
	Args    []string `yaml:"args,omitempty"`
}

// GitSink archives reports into a local git repository.
type GitSink struct {
	Path        string `yaml:"path" validate:"required"`
	AuthorName  string `yaml:"author_name,omitempty"`
	AuthorEmail string `yaml:"author_email,omitempty" validate:"omitempty,email"`
}

// Metrics configures the Prometheus textfile export.
type Metrics struct {
	Textfile string `yaml:"textfile,omitempty"`
}
