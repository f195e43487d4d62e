package dbusapi

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/keyring"
	"github.com/yllada/wg-manager/vpn"
)

func TestErrorRoundTrip(t *testing.T) {
	kinds := []error{
		common.ErrAlreadyActive,
		common.ErrConfigInvalid,
		common.ErrInterface,
		common.ErrHandshakeTimeout,
		common.ErrEngine,
		common.ErrHealthCheckTimeout,
		common.ErrCancelled,
		common.ErrProfileNotFound,
	}

	for _, kind := range kinds {
		t.Run(kind.Error(), func(t *testing.T) {
			sent := fmt.Errorf("%w: detail", kind)
			encoded := encodeError(sent)
			require.NotNil(t, encoded)
			assert.Contains(t, encoded.Name, errPrefix)

			got := decodeError(encoded)
			assert.ErrorIs(t, got, kind)
			assert.Equal(t, sent.Error(), got.Error())

			// Errors returned by a call carry the value form.
			assert.ErrorIs(t, decodeError(*encoded), kind)
		})
	}
}

func TestErrorMapping_Edges(t *testing.T) {
	assert.Nil(t, encodeError(nil))
	assert.NoError(t, decodeError(nil))

	other := encodeError(errors.New("disk full"))
	assert.Equal(t, errFailed, other.Name)
	got := decodeError(other)
	assert.EqualError(t, got, "disk full")
	assert.Nil(t, common.Kind(got))

	gone := dbus.NewError(errServiceGone, []interface{}{"The name is not activatable"})
	assert.ErrorIs(t, decodeError(gone), common.ErrServiceUnavailable)

	plain := errors.New("connection reset")
	assert.Same(t, plain, decodeError(plain))
}

func TestSignaturesMatchIntrospection(t *testing.T) {
	assert.Equal(t, "(sssssxssttx)", dbus.SignatureOf(Status{}).String())
	assert.Equal(t, "a(sssbx)", dbus.SignatureOf([]ProfileInfo{}).String())
	assert.Contains(t, introspectXML, `type="(sssssxssttx)"`)
	assert.Contains(t, introspectXML, `type="a(sssbx)"`)
}

func TestParseSignal(t *testing.T) {
	good := &dbus.Signal{
		Name: SignalStateChanged,
		Body: []interface{}{"Failed", "s1", "office", "handshake timed out", uint64(7)},
	}
	change, ok := parseSignal(good)
	require.True(t, ok)
	assert.Equal(t, StateChange{Kind: vpn.EventFailed, SessionID: "s1", Name: "office", Reason: "handshake timed out", Seq: 7}, change)

	bad := []*dbus.Signal{
		nil,
		{Name: "org.example.Other", Body: good.Body},
		{Name: SignalStateChanged, Body: good.Body[:4]},
		{Name: SignalStateChanged, Body: []interface{}{"Exploded", "s1", "", "", uint64(1)}},
		{Name: SignalStateChanged, Body: []interface{}{"Connected", "s1", "", "", 1}},
	}
	for i, sig := range bad {
		_, ok := parseSignal(sig)
		assert.False(t, ok, "signal %d", i)
	}
}

func TestStatus_Times(t *testing.T) {
	now := time.Unix(1700000100, 0)
	st := Status{State: "Connected", ConnectedAt: 1700000000, LastHandshake: 1700000090}
	assert.Equal(t, vpn.StateConnected, st.SessionState())
	assert.Equal(t, 100*time.Second, st.Uptime(now))
	assert.Equal(t, 10*time.Second, st.HandshakeAge(now))

	idle := Status{State: "Idle", ConnectedAt: 1700000000}
	assert.Zero(t, idle.Uptime(now))
	assert.Zero(t, idle.HandshakeAge(now))
	assert.Equal(t, vpn.StateIdle, Status{State: "bogus"}.SessionState())
}

type nameIface string

func (n nameIface) Name() string { return string(n) }

type stubDriver struct{}

func (stubDriver) Create(context.Context, *vpn.TunnelConfig) (vpn.Interface, error) {
	return nameIface("wgtest0"), nil
}
func (stubDriver) Destroy(vpn.Interface) error { return nil }

type stubEngine struct {
	startErr error
}

func (e *stubEngine) Start(context.Context, *vpn.TunnelConfig, vpn.Interface) (vpn.Handle, error) {
	if e.startErr != nil {
		return nil, e.startErr
	}
	return 1, nil
}
func (e *stubEngine) Stop(vpn.Handle) error                       { return nil }
func (e *stubEngine) Status(vpn.Handle) (vpn.EngineStatus, error) { return vpn.EngineUp, nil }
func (e *stubEngine) Stats(vpn.Handle) (vpn.TunnelStats, error) {
	return vpn.TunnelStats{RxBytes: 10, TxBytes: 20, LastHandshake: time.Unix(1700000000, 0)}, nil
}

func newLocal(t *testing.T, engine *stubEngine) (*Local, *vpn.Profile) {
	t.Helper()
	dir := t.TempDir()

	secrets, err := keyring.New(keyring.Options{Dir: dir, FileOnly: true})
	require.NoError(t, err)
	profiles, err := vpn.NewProfileManagerAt(filepath.Join(dir, "config"), secrets)
	require.NoError(t, err)

	priv, err := vpn.GeneratePrivateKey()
	require.NoError(t, err)
	peer, err := vpn.GeneratePrivateKey()
	require.NoError(t, err)
	cfg := vpn.NewClientConfig(priv, netip.MustParsePrefix("10.8.0.2/32"), peer.PublicKey(), "vpn.example.com:51820")
	profile, err := profiles.Add("office", cfg)
	require.NoError(t, err)

	cfgs := vpn.DefaultManagerConfig()
	cfgs.HealthInterval = time.Hour
	m := vpn.NewManager(engine, stubDriver{}, vpn.NewBus(), cfgs)
	t.Cleanup(func() { m.Close(context.Background()) })

	return NewLocal(vpn.NewController(m, profiles)), profile
}

func TestLocal_Lifecycle(t *testing.T) {
	local, profile := newLocal(t, &stubEngine{})
	ctx := context.Background()

	infos, err := local.Profiles(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, profile.ID, infos[0].ID)
	assert.Equal(t, "vpn.example.com:51820", infos[0].Endpoint)

	require.NoError(t, local.Connect(ctx, "office"))

	st, err := local.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Connected", st.State)
	assert.Equal(t, "office", st.Name)
	assert.Equal(t, "wgtest0", st.Interface)
	assert.NotZero(t, st.ConnectedAt)
	assert.Equal(t, uint64(10), st.RxBytes)
	assert.Equal(t, uint64(20), st.TxBytes)
	assert.Equal(t, int64(1700000000), st.LastHandshake)

	assert.ErrorIs(t, local.Connect(ctx, "office"), common.ErrAlreadyActive)

	require.NoError(t, local.Disconnect(ctx))
	st, err = local.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Idle", st.State)
	assert.Zero(t, st.ConnectedAt)
}

func TestObject_EncodesErrors(t *testing.T) {
	local, _ := newLocal(t, &stubEngine{startErr: errors.New("boom")})
	obj := &object{s: &Server{frontend: local, timeout: time.Second}}

	derr := obj.Connect("office")
	require.NotNil(t, derr)
	assert.Equal(t, errPrefix+"EngineError", derr.Name)

	derr = obj.Connect("missing")
	require.NotNil(t, derr)
	assert.Equal(t, errPrefix+"ProfileNotFound", derr.Name)

	assert.Nil(t, obj.Disconnect())

	st, derr := obj.Status()
	assert.Nil(t, derr)
	assert.Equal(t, "Idle", st.State)
	assert.Contains(t, st.LastError, "boom")

	profiles, derr := obj.Profiles()
	assert.Nil(t, derr)
	assert.Len(t, profiles, 1)
}
