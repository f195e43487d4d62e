//go:build !linux

package netif

import (
	"errors"

	"github.com/songgao/water"
)

func openWater(name string) (*water.Interface, error) {
	return nil, errors.New("the water driver is only available on linux")
}
