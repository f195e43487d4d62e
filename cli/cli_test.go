package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yllada/wg-manager/common"
	"github.com/yllada/wg-manager/dbusapi"
	"github.com/yllada/wg-manager/history"
	"github.com/yllada/wg-manager/keyring"
	"github.com/yllada/wg-manager/vpn"
)

const officeConf = `[Interface]
PrivateKey = dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo=
Address = 10.8.0.2/32

[Peer]
PublicKey = 3p6Hh0pjPKDhUtvL+sc1bzvY7L7qzUBEeqLNkkdA6mg=
Endpoint = vpn.example.com:51820
AllowedIPs = 0.0.0.0/0
`

// testEnv isolates the configuration, data and key store of a test run.
type testEnv struct {
	home       string
	configPath string
	secrets    *keyring.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	secrets, err := keyring.New(keyring.Options{Dir: t.TempDir(), FileOnly: true})
	require.NoError(t, err)
	return &testEnv{
		home:       home,
		configPath: filepath.Join(home, "config.yaml"),
		secrets:    secrets,
	}
}

// run executes args and returns stdout and the command error.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	c, root := New(BuildInfo{Version: "1.2.3", Time: "2026-01-01", Commit: "abc123"})
	c.profiles = func() (*vpn.ProfileManager, error) {
		return vpn.NewProfileManagerAt(filepath.Join(e.home, "profiles"), e.secrets)
	}

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", e.configPath, "--no-log-file"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"usage", &usageError{errors.New("bad flag")}, ExitUsage},
		{"already active", fmt.Errorf("%w: office", common.ErrAlreadyActive), ExitAlreadyActive},
		{"config invalid", fmt.Errorf("%w: no peer", common.ErrConfigInvalid), ExitConfigInvalid},
		{"interface", fmt.Errorf("%w: busy", common.ErrInterface), ExitInterface},
		{"handshake", fmt.Errorf("connection failed: %w", fmt.Errorf("%w: 10s", common.ErrHandshakeTimeout)), ExitHandshakeTimeout},
		{"engine", fmt.Errorf("%w: socket", common.ErrEngine), ExitEngine},
		{"health", fmt.Errorf("%w: 3 polls", common.ErrHealthCheckTimeout), ExitHealthCheckTimeout},
		{"cancelled", common.ErrCancelled, ExitCancelled},
		{"service", fmt.Errorf("%w (start it with: wg-manager daemon)", common.ErrServiceUnavailable), ExitServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "", "version", "--bogus")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, common.AppName+" v1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestKeygen(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "", "keygen", "--psk")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	priv, err := vpn.ParseKey(strings.TrimPrefix(lines[0], "PrivateKey = "))
	require.NoError(t, err)
	pub, err := vpn.ParseKey(strings.TrimPrefix(lines[1], "PublicKey = "))
	require.NoError(t, err)
	assert.True(t, priv.PublicKey().Equal(pub))
	assert.True(t, strings.HasPrefix(lines[2], "PresharedKey = "))
}

func TestPubkey(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo=\n", "pubkey")
	require.NoError(t, err)
	assert.Equal(t, "hSDwCYkwp1R0i33ctD73Wg2/Og0mOBr066SpjqqbTmo=\n", out)

	_, err = env.run(t, "not-a-key\n", "pubkey")
	assert.Equal(t, ExitUsage, ExitCode(err))

	_, err = env.run(t, "", "pubkey")
	assert.Error(t, err)
}

func TestProfileLifecycle(t *testing.T) {
	env := newTestEnv(t)
	conf := filepath.Join(t.TempDir(), "office.conf")
	require.NoError(t, os.WriteFile(conf, []byte(officeConf), 0600))

	out, err := env.run(t, "", "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No profiles")

	out, err = env.run(t, "", "profile", "import", conf)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported office")

	out, err = env.run(t, "", "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "AUTO-CONNECT")
	assert.Contains(t, out, "vpn.example.com:51820")
	assert.Contains(t, out, "never")

	_, err = env.run(t, "", "profile", "auto", "office")
	require.NoError(t, err)
	out, err = env.run(t, "", "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "yes")

	out, err = env.run(t, "", "profile", "export", "office")
	require.NoError(t, err)
	assert.Contains(t, out, "PrivateKey = dwdtCnMYpX08FsFyUbJmRd9ML4frwJkqsXf7pR25LCo=")
	assert.Contains(t, out, "Endpoint = vpn.example.com:51820")

	_, err = env.run(t, "", "profile", "import", conf)
	assert.ErrorIs(t, err, common.ErrDuplicateName)

	out, err = env.run(t, "", "profile", "rm", "office")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed office")

	_, err = env.run(t, "", "profile", "remove", "office")
	assert.ErrorIs(t, err, common.ErrProfileNotFound)
}

func TestProfileNameFromPath(t *testing.T) {
	assert.Equal(t, "office", profileNameFromPath("/etc/wireguard/office.conf"))
	assert.Equal(t, "home.lan", profileNameFromPath("home.lan.conf"))
	assert.Equal(t, "wg0", profileNameFromPath("wg0"))
}

func TestPrintStatus_Connected(t *testing.T) {
	now := time.Unix(1700000100, 0)
	var buf bytes.Buffer
	printStatus(&buf, dbusapi.Status{
		State:         vpn.StateConnected.String(),
		SessionID:     "0123456789abcdef",
		Name:          "office",
		Endpoint:      "vpn.example.com:51820",
		Interface:     "wg0",
		ConnectedAt:   now.Add(-90 * time.Second).Unix(),
		Health:        "healthy",
		RxBytes:       2048,
		TxBytes:       10,
		LastHandshake: now.Add(-5 * time.Second).Unix(),
	}, now)

	out := buf.String()
	assert.Contains(t, out, "Connected")
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "1m 30s")
	assert.Contains(t, out, "5s ago")
	assert.Contains(t, out, "2.0 KiB received, 10 B sent")
	assert.NotContains(t, out, "LAST ERROR")
}

func TestPrintStatus_IdleAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, dbusapi.Status{
		State:     vpn.StateIdle.String(),
		LastError: "handshake timeout: no handshake within 10s",
	}, time.Now())

	out := buf.String()
	assert.Contains(t, out, "Idle")
	assert.Contains(t, out, "LAST ERROR")
	assert.Contains(t, out, "no handshake within 10s")
	assert.NotContains(t, out, "PROFILE")
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	printHistory(&buf, nil)
	assert.Contains(t, buf.String(), "No sessions recorded")

	buf.Reset()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)
	printHistory(&buf, []history.Record{
		{Name: "office", Endpoint: "vpn.example.com:51820", State: "Disconnected",
			StartedAt: start, ConnectedAt: start.Add(time.Second), EndedAt: start.Add(time.Hour + time.Second)},
		{Name: "lab", State: "Failed", Reason: "handshake timeout", StartedAt: start},
	})
	out := buf.String()
	assert.Contains(t, out, "2026-03-01 09:00:00")
	assert.Contains(t, out, "1h 0m 0s")
	assert.Contains(t, out, "handshake timeout")
}
