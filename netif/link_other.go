//go:build !linux

package netif

import (
	"context"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

func configureLink(ctx context.Context, name string, cfg *vpn.TunnelConfig, mtu int, manageRoutes bool) ([]func() error, error) {
	common.LogWarn("Address and route configuration of %s is not supported on this platform", name)
	return nil, nil
}
