package wireguard

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun/netstack"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/netif"
	"github.com/yllada/wg-manager/vpn"
)

func TestGrade(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		last time.Time
		want vpn.EngineStatus
	}{
		{"never", time.Time{}, vpn.EngineDown},
		{"fresh", now.Add(-5 * time.Second), vpn.EngineUp},
		{"at rekey", now.Add(-common.RekeyAfterTime), vpn.EngineUp},
		{"late rekey", now.Add(-common.RekeyAfterTime - rekeyGrace - time.Second), vpn.EngineDegraded},
		{"rejected", now.Add(-common.RejectAfterTime - time.Second), vpn.EngineDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Grade(tt.last, now))
		})
	}
}

type plainIface struct{}

func (plainIface) Name() string { return "plain0" }

func TestStart_RequiresTUN(t *testing.T) {
	_, err := New().Start(context.Background(), testConfig(t), plainIface{})
	assert.ErrorIs(t, err, common.ErrInterface)
}

func TestForeignHandle(t *testing.T) {
	e := New()
	assert.ErrorIs(t, e.Stop("nope"), common.ErrEngine)
	_, err := e.Status(42)
	assert.ErrorIs(t, err, common.ErrEngine)
	_, err = e.Stats(nil)
	assert.ErrorIs(t, err, common.ErrEngine)
}

func TestResolveEndpoint(t *testing.T) {
	e := New()
	ap, err := e.resolveEndpoint(context.Background(), "192.0.2.10:51820")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("192.0.2.10:51820"), ap)

	ap, err = e.resolveEndpoint(context.Background(), "[::ffff:192.0.2.10]:51820")
	require.NoError(t, err)
	assert.True(t, ap.Addr().Is4())

	_, err = e.resolveEndpoint(context.Background(), "no-port")
	assert.ErrorIs(t, err, common.ErrConfigInvalid)
}

// startServer runs a wireguard-go peer on a netstack device bound to a
// random loopback port.
func startServer(t *testing.T, serverKey vpn.Key, clientPub vpn.Key) int {
	t.Helper()
	tunDev, _, err := netstack.CreateNetTUN([]netip.Addr{netip.MustParseAddr("10.9.0.1")}, nil, common.DefaultMTU)
	require.NoError(t, err)

	dev := device.NewDevice(tunDev, conn.NewDefaultBind(), device.NewLogger(device.LogLevelSilent, ""))
	t.Cleanup(dev.Close)

	uapi := fmt.Sprintf("private_key=%s\nlisten_port=0\npublic_key=%s\nallowed_ip=10.9.0.2/32\n",
		serverKey.Hex(), clientPub.Hex())
	require.NoError(t, dev.IpcSet(uapi))
	require.NoError(t, dev.Up())

	raw, err := dev.IpcGet()
	require.NoError(t, err)
	info, err := ParseUAPI(raw)
	require.NoError(t, err)
	require.NotZero(t, info.ListenPort)
	return info.ListenPort
}

func TestEngine_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}

	serverKey, err := vpn.GeneratePrivateKey()
	require.NoError(t, err)
	clientKey, err := vpn.GeneratePrivateKey()
	require.NoError(t, err)

	port := startServer(t, serverKey, clientKey.PublicKey())

	cfg := vpn.NewClientConfig(clientKey, netip.MustParsePrefix("10.9.0.2/32"), serverKey.PublicKey(),
		fmt.Sprintf("127.0.0.1:%d", port))
	cfg.AllowedIPs = []netip.Prefix{netip.MustParsePrefix("10.9.0.0/24")}
	cfg.DNS = nil

	driver, err := netif.NewDriver(common.DriverNetstack, netif.Options{Name: "wgclient"})
	require.NoError(t, err)
	iface, err := driver.Create(context.Background(), cfg)
	require.NoError(t, err)
	defer driver.Destroy(iface)

	engine := New(WithPollInterval(10 * time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := engine.Start(ctx, cfg, iface)
	require.NoError(t, err)

	status, err := engine.Status(h)
	require.NoError(t, err)
	assert.Equal(t, vpn.EngineUp, status)

	stats, err := engine.Stats(h)
	require.NoError(t, err)
	assert.False(t, stats.LastHandshake.IsZero())
	assert.NotZero(t, stats.TxBytes)

	require.NoError(t, engine.Stop(h))
	require.NoError(t, engine.Stop(h))

	_, err = engine.Status(h)
	assert.Error(t, err)
	assert.NoError(t, driver.Destroy(iface))
}

func TestEngine_HandshakeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("opens UDP sockets")
	}

	cfg := testConfig(t)
	// Nothing listens on the discard port, so no handshake completes.
	cfg.Endpoint = "127.0.0.1:9"
	cfg.AllowedIPs = []netip.Prefix{netip.MustParsePrefix("10.9.0.0/24")}

	driver, err := netif.NewDriver(common.DriverNetstack, netif.Options{Name: "wgtimeout"})
	require.NoError(t, err)
	iface, err := driver.Create(context.Background(), cfg)
	require.NoError(t, err)
	defer driver.Destroy(iface)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err = New(WithPollInterval(10*time.Millisecond)).Start(ctx, cfg, iface)
	assert.True(t, errors.Is(err, common.ErrHandshakeTimeout), "got %v", err)
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(msg, args...))
}

func (l *recordingLogger) Debug(msg string, args ...interface{}) { l.record("DEBUG", msg, args...) }
func (l *recordingLogger) Info(msg string, args ...interface{})  { l.record("INFO", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...interface{})  { l.record("WARN", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...interface{}) { l.record("ERROR", msg, args...) }

func TestDeviceLoggerUsesEngineLogger(t *testing.T) {
	rec := &recordingLogger{}
	e := New(WithLogger(rec))

	dl := newLogger(e.log, "wg0")
	dl.Verbosef("peer %d handshake", 1)
	dl.Errorf("bind: %v", errors.New("closed"))

	assert.Equal(t, []string{
		"DEBUG wireguard(wg0): peer 1 handshake",
		"ERROR wireguard(wg0): bind: closed",
	}, rec.lines)
}

func TestDefaultEngineLogsToAppLogger(t *testing.T) {
	e := New()
	assert.Same(t, common.GetLogger(), e.log)
}
