package netif

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/vpn"
)

func TestTunnelRoutes(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		want    []string
	}{
		{
			name:    "full tunnel",
			allowed: []string{"0.0.0.0/0", "::/0"},
			want:    []string{"0.0.0.0/1", "128.0.0.0/1", "::/1", "8000::/1"},
		},
		{
			name:    "split tunnel",
			allowed: []string{"10.0.0.0/8", "192.168.1.7/24"},
			want:    []string{"10.0.0.0/8", "192.168.1.0/24"},
		},
		{
			name:    "duplicates collapse",
			allowed: []string{"10.0.0.0/8", "10.1.2.3/8"},
			want:    []string{"10.0.0.0/8"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var allowed []netip.Prefix
			for _, s := range tt.allowed {
				allowed = append(allowed, netip.MustParsePrefix(s))
			}
			var got []string
			for _, p := range TunnelRoutes(allowed) {
				got = append(got, p.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoversAll(t *testing.T) {
	assert.True(t, CoversAll([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("::/0")}))
	assert.False(t, CoversAll([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}))
	assert.False(t, CoversAll(nil))
}

func TestHostPrefix(t *testing.T) {
	assert.Equal(t, "203.0.113.9/32", HostPrefix(netip.MustParseAddr("::ffff:203.0.113.9")).String())
	assert.Equal(t, "2001:db8::1/128", HostPrefix(netip.MustParseAddr("2001:db8::1")).String())
}

func TestToIPNet(t *testing.T) {
	n := toIPNet(netip.MustParsePrefix("192.168.1.7/24"))
	assert.Equal(t, "192.168.1.0/24", n.String())

	a := addrIPNet(netip.MustParsePrefix("192.168.1.7/24"))
	assert.Equal(t, "192.168.1.7/24", a.String())
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("wgm0"))
	assert.ErrorIs(t, ValidateName(""), common.ErrConfigInvalid)
	assert.ErrorIs(t, ValidateName(strings.Repeat("w", 200)), common.ErrConfigInvalid)
}

func TestNewDriver(t *testing.T) {
	for _, kind := range []string{"", common.DriverTUN, common.DriverWater, common.DriverNetstack} {
		d, err := NewDriver(kind, Options{})
		require.NoError(t, err, kind)
		assert.NotNil(t, d)
	}

	_, err := NewDriver("tap", Options{})
	assert.Error(t, err)
}

func netstackConfig(t *testing.T) *vpn.TunnelConfig {
	t.Helper()
	priv, err := vpn.GeneratePrivateKey()
	require.NoError(t, err)
	peer, err := vpn.GeneratePrivateKey()
	require.NoError(t, err)
	return vpn.NewClientConfig(priv, netip.MustParsePrefix("10.7.0.2/32"), peer.PublicKey(), "127.0.0.1:51820")
}

func TestNetstackDriver(t *testing.T) {
	d, err := NewDriver(common.DriverNetstack, Options{Name: "wgtest"})
	require.NoError(t, err)

	iface, err := d.Create(context.Background(), netstackConfig(t))
	require.NoError(t, err)
	assert.Equal(t, "wgtest", iface.Name())

	dev := iface.(*Device)
	assert.NotNil(t, dev.Net())
	mtu, err := dev.TUN().MTU()
	require.NoError(t, err)
	assert.Equal(t, common.DefaultMTU, mtu)

	// The engine closes the tun device before the driver destroys it.
	require.NoError(t, dev.TUN().Close())
	assert.NoError(t, d.Destroy(iface))
	assert.NoError(t, d.Destroy(iface))
}

func TestNetstackDriver_NeedsAddress(t *testing.T) {
	d := &NetstackDriver{}
	cfg := netstackConfig(t)
	cfg.Addresses = nil

	_, err := d.Create(context.Background(), cfg)
	assert.ErrorIs(t, err, common.ErrInterface)
}

type otherIface struct{}

func (otherIface) Name() string { return "other0" }

func TestDestroyForeignInterface(t *testing.T) {
	d := &TUNDriver{}
	assert.ErrorIs(t, d.Destroy(otherIface{}), common.ErrInterface)
}

func TestDeviceCleanupOrder(t *testing.T) {
	var order []int
	d := &NetstackDriver{opts: Options{MTU: 1280}}
	iface, err := d.Create(context.Background(), netstackConfig(t))
	require.NoError(t, err)

	dev := iface.(*Device)
	dev.cleanup = []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return nil },
	}
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	assert.Equal(t, []int{2, 1}, order)

	mtu, _ := dev.TUN().MTU()
	assert.Equal(t, 1280, mtu)
}

type fakeFirewall struct {
	blocked   [][]netip.Addr
	unblocked int
	blockErr  error
}

func (f *fakeFirewall) block(endpoints []netip.Addr) error {
	if f.blockErr != nil {
		return f.blockErr
	}
	f.blocked = append(f.blocked, endpoints)
	return nil
}

func (f *fakeFirewall) unblock() error {
	f.unblocked++
	return nil
}

func newTestKillSwitch() (*KillSwitch, *fakeFirewall) {
	fw := &fakeFirewall{}
	k := &KillSwitch{
		fw: fw,
		resolve: func(ctx context.Context, endpoint string) ([]netip.Addr, error) {
			if strings.HasPrefix(endpoint, "unknown.") {
				return nil, errors.New("no such host")
			}
			return []netip.Addr{netip.MustParseAddr("203.0.113.9")}, nil
		},
	}
	return k, fw
}

func killSwitchConfig(endpoint string, allowed ...string) *vpn.TunnelConfig {
	cfg := &vpn.TunnelConfig{Name: "office", Endpoint: endpoint}
	for _, s := range allowed {
		cfg.AllowedIPs = append(cfg.AllowedIPs, netip.MustParsePrefix(s))
	}
	return cfg
}

func TestKillSwitch_EngagesForFullTunnel(t *testing.T) {
	k, fw := newTestKillSwitch()
	ctx := context.Background()

	require.NoError(t, k.Engage(ctx, killSwitchConfig("vpn.example.com:51820", "0.0.0.0/0")))
	assert.True(t, k.Engaged())
	require.Len(t, fw.blocked, 1)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("203.0.113.9")}, fw.blocked[0])

	// Reconnecting the same profile keeps the rules in place.
	require.NoError(t, k.Engage(ctx, killSwitchConfig("vpn.example.com:51820", "0.0.0.0/0")))
	assert.Len(t, fw.blocked, 1)
	assert.Zero(t, fw.unblocked)

	require.NoError(t, k.Engage(ctx, killSwitchConfig("other.example.com:51820", "0.0.0.0/0", "::/0")))
	assert.Len(t, fw.blocked, 2)
	assert.Equal(t, 1, fw.unblocked)

	require.NoError(t, k.Release())
	assert.False(t, k.Engaged())
	assert.Equal(t, 2, fw.unblocked)

	require.NoError(t, k.Release())
	assert.Equal(t, 2, fw.unblocked, "release of a released switch touches nothing")
}

func TestKillSwitch_SplitTunnel(t *testing.T) {
	k, fw := newTestKillSwitch()
	ctx := context.Background()

	require.NoError(t, k.Engage(ctx, killSwitchConfig("vpn.example.com:51820", "10.0.0.0/8")))
	assert.False(t, k.Engaged())
	assert.Empty(t, fw.blocked)

	require.NoError(t, k.Engage(ctx, killSwitchConfig("vpn.example.com:51820", "0.0.0.0/0")))
	require.NoError(t, k.Engage(ctx, killSwitchConfig("vpn.example.com:51820", "10.0.0.0/8")))
	assert.False(t, k.Engaged())
	assert.Equal(t, 1, fw.unblocked)
}

func TestKillSwitch_Errors(t *testing.T) {
	k, fw := newTestKillSwitch()
	ctx := context.Background()

	err := k.Engage(ctx, killSwitchConfig("unknown.example.com:51820", "0.0.0.0/0"))
	assert.ErrorIs(t, err, common.ErrInterface)
	assert.False(t, k.Engaged())

	fw.blockErr = errors.New("operation not permitted")
	err = k.Engage(ctx, killSwitchConfig("vpn.example.com:51820", "0.0.0.0/0"))
	assert.ErrorIs(t, err, common.ErrInterface)
	assert.Contains(t, err.Error(), "operation not permitted")
	assert.False(t, k.Engaged())
}

func TestKillSwitch_Reset(t *testing.T) {
	k, fw := newTestKillSwitch()
	require.NoError(t, k.Reset())
	assert.Equal(t, 1, fw.unblocked)
	assert.False(t, k.Engaged())
}

func TestResolveEndpoint(t *testing.T) {
	addrs, err := resolveEndpoint(context.Background(), "203.0.113.9:51820")
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("203.0.113.9")}, addrs)

	_, err = resolveEndpoint(context.Background(), "no-port")
	assert.Error(t, err)
}
