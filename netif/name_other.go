//go:build !(linux || darwin || freebsd || openbsd || netbsd)

package netif

import (
	"fmt"

	"github.com/yllada/wg-manager/common"
)

// ValidateName checks an interface name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty interface name", common.ErrConfigInvalid)
	}
	if len(name) > 127 {
		return fmt.Errorf("%w: interface name %q too long", common.ErrConfigInvalid, name)
	}
	return nil
}
