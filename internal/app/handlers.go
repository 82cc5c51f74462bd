package app

import (
	"github.com/alexisbeaulieu97/convergo/internal/config"
	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/actions"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/handlers"
	"github.com/alexisbeaulieu97/convergo/internal/infrastructure/probes"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
	convergoerrors "github.com/alexisbeaulieu97/convergo/pkg/errors"
)

type handlerDeps struct {
	config  *config.Config
	invoker ports.ProcessInvoker
	local   ports.LocalStateClient
	host    ports.HostInfo
	remote  ports.RemoteIdentityClient
	logger  ports.Logger
}

// executor wraps e for dry runs.
func (d handlerDeps) executor(e ports.ActionExecutor) ports.ActionExecutor {
	if d.config.Settings.DryRun {
		return actions.NewDryRun(e)
	}
	return e
}

func (d handlerDeps) bundle(name string, kind reconcile.TargetKind, description string, chain *probes.Chain, exec ports.ActionExecutor) func() (ports.Handler, error) {
	return func() (ports.Handler, error) {
		return handlers.New(ports.HandlerMetadata{
			Name:        name,
			Kind:        kind,
			Description: description,
			Sources:     chain.Names(),
		}, chain, d.executor(exec)), nil
	}
}

// registerHandlers installs a handler per target kind the host can serve.
// Device handlers need a device section; the immutable id handler needs a
// Graph client.
func registerHandlers(registry *handlers.Registry, d handlerDeps) error {
	probeLogger := d.logger.With("component", "probe")

	if dev := d.config.Device; dev != nil {
		reader := probes.NewDsregReader(d.invoker, "")

		join, err := actions.NewCommand(d.invoker, dev.JoinCommand, d.logger)
		if err != nil {
			return convergoerrors.NewHandlerError("entra-join", string(reconcile.KindDeviceJoined), err)
		}
		joinChain := probes.NewChain(probeLogger,
			probes.NewDsregJoinSource(reader, d.host),
			probes.NewJoinInfoSource(d.local),
		)
		if err := registry.RegisterFactory(reconcile.KindDeviceJoined,
			d.bundle("entra-join", reconcile.KindDeviceJoined, "Entra hybrid join via dsregcmd", joinChain, join)); err != nil {
			return err
		}

		enroll, err := actions.NewCommand(d.invoker, dev.EnrollCommand, d.logger)
		if err != nil {
			return convergoerrors.NewHandlerError("intune-enroll", string(reconcile.KindMDMEnrolled), err)
		}
		enrollChain := probes.NewChain(probeLogger, probes.NewEnrollmentSource(d.local, reader.EntraJoined))
		if err := registry.RegisterFactory(reconcile.KindMDMEnrolled,
			d.bundle("intune-enroll", reconcile.KindMDMEnrolled, "Intune auto-enrollment with the device credential", enrollChain, enroll)); err != nil {
			return err
		}
	}

	flagChain := probes.NewChain(probeLogger, probes.NewRegistryValueSource(d.local))
	if err := registry.RegisterFactory(reconcile.KindRegistryFlagSet,
		d.bundle("registry-flag", reconcile.KindRegistryFlagSet, "Registry value write", flagChain, actions.NewRegistryWrite(d.local))); err != nil {
		return err
	}

	if d.remote != nil {
		idChain := probes.NewChain(probeLogger, probes.NewRemoteImmutableIDSource(d.remote))
		if err := registry.RegisterFactory(reconcile.KindImmutableIDSet,
			d.bundle("graph-immutable-id", reconcile.KindImmutableIDSet, "onPremisesImmutableId write through Microsoft Graph", idChain, actions.NewImmutableIDWrite(d.remote))); err != nil {
			return err
		}
	}
	return nil
}
