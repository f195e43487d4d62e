//go:build linux

package netif

import "github.com/songgao/water"

func openWater(name string) (*water.Interface, error) {
	return water.New(water.Config{
		DeviceType:             water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{Name: name},
	})
}
