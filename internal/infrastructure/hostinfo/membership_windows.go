//go:build windows

package hostinfo

import (
	"context"
	"fmt"

	"github.com/yusufpapurcu/wmi"
)

type win32ComputerSystem struct {
	Domain       string
	PartOfDomain bool
}

func queryMembership(ctx context.Context) (Membership, error) {
	if err := ctx.Err(); err != nil {
		return Membership{}, err
	}
	var systems []win32ComputerSystem
	if err := wmi.Query("SELECT Domain, PartOfDomain FROM Win32_ComputerSystem", &systems); err != nil {
		return Membership{}, fmt.Errorf("query Win32_ComputerSystem: %w", err)
	}
	if len(systems) == 0 {
		return Membership{}, fmt.Errorf("Win32_ComputerSystem returned no rows")
	}
	return Membership{Domain: systems[0].Domain, PartOfDomain: systems[0].PartOfDomain}, nil
}
