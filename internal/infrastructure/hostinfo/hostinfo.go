// Package hostinfo gathers host facts with gopsutil and, on Windows, the
// domain membership reported by WMI.
package hostinfo

import (
	"context"
	"fmt"

	gohost "github.com/shirou/gopsutil/v4/host"

	"github.com/alexisbeaulieu97/convergo/internal/domain/reconcile"
	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

// Membership is the directory membership of the machine.
type Membership struct {
	Domain       string
	PartOfDomain bool
}

// Collector implements ports.HostInfo.
type Collector struct {
	hostInfo   func(ctx context.Context) (*gohost.InfoStat, error)
	membership func(ctx context.Context) (Membership, error)
	logger     ports.Logger
}

// Option customises a Collector.
type Option func(*Collector)

// WithHostInfo replaces the gopsutil host query.
func WithHostInfo(fn func(ctx context.Context) (*gohost.InfoStat, error)) Option {
	return func(c *Collector) { c.hostInfo = fn }
}

// WithMembership replaces the platform membership query.
func WithMembership(fn func(ctx context.Context) (Membership, error)) Option {
	return func(c *Collector) { c.membership = fn }
}

// New returns a collector backed by the operating system.
func New(logger ports.Logger, opts ...Option) *Collector {
	c := &Collector{
		hostInfo:   gohost.InfoWithContext,
		membership: queryMembership,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Facts implements ports.HostInfo. Membership failures are logged and leave
// the domain fields empty; host query failures are returned.
func (c *Collector) Facts(ctx context.Context) (ports.HostFacts, error) {
	info, err := c.hostInfo(ctx)
	if err != nil {
		return ports.HostFacts{}, reconcile.NewError(reconcile.ErrCodeSourceUnavailable, "query host info", err, nil)
	}
	if info == nil {
		return ports.HostFacts{}, reconcile.NewError(reconcile.ErrCodeSourceUnavailable, "query host info", fmt.Errorf("empty host info"), nil)
	}

	facts := ports.HostFacts{
		Hostname:    info.Hostname,
		OSName:      info.Platform,
		OSVersion:   info.PlatformVersion,
		KernelBuild: info.KernelVersion,
	}

	m, err := c.membership(ctx)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn(ctx, "domain membership query failed", "error", err)
		}
		return facts, nil
	}
	facts.Domain = m.Domain
	facts.DomainJoined = m.PartOfDomain
	return facts, nil
}

var _ ports.HostInfo = (*Collector)(nil)
