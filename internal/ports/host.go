package ports

import "context"

// HostFacts describes the local machine.
type HostFacts struct {
	Hostname     string
	OSName       string
	OSVersion    string
	KernelBuild  string
	Domain       string
	DomainJoined bool
}

// HostInfo gathers facts used for prerequisites and reports.
type HostInfo interface {
	Facts(ctx context.Context) (HostFacts, error)
}
