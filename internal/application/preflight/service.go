// Package preflight checks that the executables and files a configuration
// refers to are present before any target is reconciled.
package preflight

import (
	"context"
	"path/filepath"

	"github.com/alexisbeaulieu97/convergo/internal/config"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// CheckType names a preflight rule.
type CheckType string

const (
	CheckCommand  CheckType = "command_exists"
	CheckFile     CheckType = "file_exists"
	CheckContains CheckType = "path_contains"
)

// principalsHeader matches the objectGUID column the hard match needs.
const principalsHeader = `(?i)^[^\n]*\bobjectguid\b`

// Check is one rule with the config field that produced it.
type Check struct {
	Type    CheckType
	Field   string
	Subject string
	Pattern string
}

// Result captures the outcome of a single check.
type Result struct {
	Check   Check
	Passed  bool
	Message string
	Err     error
}

// Summary aggregates check results in order.
type Summary struct {
	Results []Result
	Passed  int
	Failed  int
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	if r.Passed {
		s.Passed++
	} else {
		s.Failed++
	}
}

// ChecksFor derives the checks implied by a configuration with defaults
// applied. Device commands are skipped for targets the config disables.
func ChecksFor(cfg *config.Config) []Check {
	if cfg == nil {
		return nil
	}
	var checks []Check
	command := func(field string, argv []string) {
		if len(argv) > 0 {
			checks = append(checks, Check{Type: CheckCommand, Field: field, Subject: argv[0]})
		}
	}
	file := func(field, path string) {
		if path != "" {
			checks = append(checks, Check{Type: CheckFile, Field: field, Subject: path})
		}
	}

	if d := cfg.Device; d != nil {
		if !d.SkipEntra {
			command("device.join_command", d.JoinCommand)
		}
		if !d.SkipIntune {
			command("device.enroll_command", d.EnrollCommand)
		}
	}
	command("settings.escalation_command", cfg.Settings.EscalationCommand)
	if rmm := cfg.Sinks.RMM; rmm != nil {
		command("sinks.rmm.command", []string{rmm.Command})
	}
	if hm := cfg.HardMatch; hm != nil {
		file("hardmatch.principals_file", hm.PrincipalsFile)
		if hm.PrincipalsFile != "" {
			checks = append(checks, Check{Type: CheckContains, Field: "hardmatch.principals_file", Subject: hm.PrincipalsFile, Pattern: principalsHeader})
		}
		file("hardmatch.nickname_file", hm.NicknameFile)
	}
	if cfg.Metrics.Textfile != "" {
		file("metrics.textfile", filepath.Dir(cfg.Metrics.Textfile))
	}
	return checks
}

// Service runs preflight checks with structured logging.
type Service struct {
	logger ports.Logger
}

// NewService constructs a preflight service.
func NewService(logger ports.Logger) *Service {
	return &Service{logger: logger}
}

// Run executes every check. A non-nil error with code VALIDATION_ERROR is
// returned alongside the summary when any check fails.
func (s *Service) Run(ctx context.Context, checks []Check) (Summary, error) {
	summary := Summary{}
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return summary, reconcile.NewError(reconcile.ErrCodeCancelled, "preflight cancelled", err, nil)
		}

		var err error
		switch check.Type {
		case CheckCommand:
			err = CheckCommandExists(check.Subject)
		case CheckFile:
			err = CheckFileExists(check.Subject)
		case CheckContains:
			err = CheckPathContains(check.Subject, check.Pattern)
		default:
			err = reconcile.NewError(reconcile.ErrCodeValidation, "unsupported check type", nil,
				map[string]interface{}{"check_type": string(check.Type)})
		}

		result := Result{Check: check, Passed: err == nil, Message: "passed", Err: err}
		if err != nil {
			result.Message = err.Error()
			if s.logger != nil {
				s.logger.Warn(ctx, "preflight check failed", "check_type", string(check.Type), "field", check.Field,
					"subject", check.Subject, "error", err)
			}
		} else if s.logger != nil {
			s.logger.Debug(ctx, "preflight check passed", "check_type", string(check.Type), "field", check.Field)
		}
		summary.add(result)
	}

	if summary.Failed > 0 {
		return summary, reconcile.NewError(reconcile.ErrCodeValidation, "one or more preflight checks failed", nil,
			map[string]interface{}{"failed_checks": summary.Failed})
	}
	return summary, nil
}
