//go:build !windows

package hostinfo

import "context"

// Only Windows reports Active Directory membership; elsewhere the machine is
// treated as a workgroup host.
func queryMembership(ctx context.Context) (Membership, error) {
	return Membership{}, ctx.Err()
}
