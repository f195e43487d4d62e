//go:build !linux

package netif

import (
	"fmt"
	"net/netip"
	"runtime"
)

type unsupportedFirewall struct{}

func newFirewall() firewall {
	return unsupportedFirewall{}
}

func (unsupportedFirewall) block([]netip.Addr) error {
	return fmt.Errorf("not supported on %s", runtime.GOOS)
}

func (unsupportedFirewall) unblock() error {
	return nil
}
