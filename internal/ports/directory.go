package ports

import (
	"context"
	"iter"

	"github.com/alexisbeaulieu97/convergo/internal/domain/match"
)

// AttributeImmutableID is the remote attribute written by a hard match.
const AttributeImmutableID = "onPremisesImmutableId"

// PrincipalFilter narrows ListAllPrincipals.
type PrincipalFilter struct {
	// EnabledOnly skips disabled accounts.
	EnabledOnly bool
	// Keys restricts the listing to these sAMAccountNames or UPNs.
	Keys []string
}

// DirectoryClient reads the on-premises directory. Lookups of unknown keys
// return an error matching reconcile.ErrNotFound.
type DirectoryClient interface {
	LookupBySamAccountNameOrUPN(ctx context.Context, key string) (match.Principal, error)
	ListAllPrincipals(ctx context.Context, filter PrincipalFilter) iter.Seq2[match.Principal, error]
}

// RemoteIdentityClient reads and updates the cloud directory. LookupByKey
// returns every record that answers to the key so callers can detect
// collisions. Implementations must tolerate concurrent lookups.
type RemoteIdentityClient interface {
	LookupByKey(ctx context.Context, key string) ([]match.RemotePrincipal, error)
	SetAttribute(ctx context.Context, key, attribute, value string) error
	ListAll(ctx context.Context, properties []string) iter.Seq2[match.RemotePrincipal, error]
}
