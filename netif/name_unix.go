//go:build linux || darwin || freebsd || openbsd || netbsd

package netif

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/yllada/wg-manager/common"
)

// ValidateName checks an interface name against the kernel's limits.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty interface name", common.ErrConfigInvalid)
	}
	if len(name) >= unix.IFNAMSIZ {
		return fmt.Errorf("%w: interface name %q longer than %d bytes", common.ErrConfigInvalid, name, unix.IFNAMSIZ-1)
	}
	if strings.ContainsAny(name, "/ \t\n:") {
		return fmt.Errorf("%w: interface name %q contains invalid characters", common.ErrConfigInvalid, name)
	}
	return nil
}
