package app

import (
	"context"

	"github.com/alexisbeaulieu97/convergo/internal/config"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/sink"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// buildSinks fans out to every sink the configuration names. With none
// configured the result is an empty Multi and reports go to the log only.
func buildSinks(ctx context.Context, cfg *config.Config, invoker ports.ProcessInvoker, host ports.HostInfo, logger ports.Logger) (*sink.Multi, error) {
	var named []sink.Named
	s := cfg.Sinks

	if s.CSVDir != "" {
		csvSink, err := sink.NewCSV(s.CSVDir)
		if err != nil {
			return nil, err
		}
		named = append(named, sink.Named{Name: "csv", Sink: csvSink})
	}
	if s.StatusFile != "" {
		named = append(named, sink.Named{Name: "status_file", Sink: sink.NewStatusFile(s.StatusFile, logger.With("component", "status_file"))})
	}
	if s.RMM != nil {
		named = append(named, sink.Named{Name: "rmm", Sink: sink.NewRMM(invoker, s.RMM.Command, s.RMM.Args)})
	}
	if s.Git != nil {
		hostname := ""
		if host != nil {
			if facts, err := host.Facts(ctx); err == nil {
				hostname = facts.Hostname
			}
		}
		archive, err := sink.NewGitArchive(s.Git.Path, hostname, s.Git.AuthorName, s.Git.AuthorEmail, logger.With("component", "git_archive"))
		if err != nil {
			return nil, err
		}
		named = append(named, sink.Named{Name: "git", Sink: archive})
	}

	return sink.NewMulti(logger.With("component", "sinks"), named...), nil
}
