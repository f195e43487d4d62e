// Package vpn provides tunnel session management.
// This file contains the Profile and ProfileManager types for managing
// stored WireGuard tunnel profiles.
package vpn

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/wg-manager/common"
)

// Profile errors - re-exported from common package for convenience.
var (
	ErrProfileNotFound = common.ErrProfileNotFound
	ErrDuplicateName   = common.ErrDuplicateName
	ErrInvalidProfile  = common.ErrInvalidProfile
)

// Profile is a stored tunnel. The private key never touches the profile
// index or the stored config; it lives in the credential store under the
// profile ID.
type Profile struct {
	// ID is a unique identifier for the profile (UUID format).
	ID string `yaml:"id"`
	// Name is a human-readable name for the profile.
	Name string `yaml:"name"`
	// ConfigPath is the stored wg-quick file, without PrivateKey.
	ConfigPath string `yaml:"config_path"`
	// Endpoint is the peer endpoint, kept for listings.
	Endpoint string `yaml:"endpoint"`
	// PublicKey is the local public key, handed to the peer's administrator.
	PublicKey string `yaml:"public_key"`
	// AutoConnect indicates whether the daemon connects this profile on startup.
	AutoConnect bool `yaml:"auto_connect"`
	// Created is the timestamp when the profile was created.
	Created time.Time `yaml:"created"`
	// LastUsed is the timestamp when the profile was last connected.
	LastUsed time.Time `yaml:"last_used,omitempty"`
}

// Validate checks if the profile has all required fields.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: profile name is required", ErrInvalidProfile)
	}
	if p.ConfigPath == "" {
		return fmt.Errorf("%w: config path is required", ErrInvalidProfile)
	}
	return nil
}

// ProfileManager manages tunnel profiles stored on disk.
type ProfileManager struct {
	mu         sync.RWMutex
	profiles   []*Profile
	configDir  string
	configFile string
	secrets    common.CredentialStore
}

// NewProfileManager creates a ProfileManager rooted at the application
// configuration directory and loads existing profiles.
func NewProfileManager(secrets common.CredentialStore) (*ProfileManager, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return NewProfileManagerAt(configDir, secrets)
}

// NewProfileManagerAt creates a ProfileManager rooted at configDir.
func NewProfileManagerAt(configDir string, secrets common.CredentialStore) (*ProfileManager, error) {
	if err := os.MkdirAll(filepath.Join(configDir, common.ProfileConfigsDir), 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	pm := &ProfileManager{
		configDir:  configDir,
		configFile: filepath.Join(configDir, common.ProfilesFileName),
		secrets:    secrets,
	}
	if err := pm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}
	return pm, nil
}

// Load loads profiles from the index file.
// A missing file means there are no profiles yet.
func (pm *ProfileManager) Load() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	data, err := os.ReadFile(pm.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			pm.profiles = nil
			return nil
		}
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	var profiles []*Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("failed to parse profiles file: %w", err)
	}
	pm.profiles = profiles
	return nil
}

// save persists profiles. Must be called with pm.mu held.
func (pm *ProfileManager) save() error {
	data, err := yaml.Marshal(pm.profiles)
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}
	if err := os.WriteFile(pm.configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}
	return nil
}

// Import reads a wg-quick file and stores it as a new profile named name.
// An empty name defaults to the file name without extension.
func (pm *ProfileManager) Import(name, path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := ParseWGQuick(f)
	if err != nil {
		return nil, err
	}
	defer cfg.Wipe()

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return pm.Add(name, cfg)
}

// Add stores cfg as a new profile. The private key goes to the credential
// store; everything else is written as a wg-quick file without PrivateKey.
func (pm *ProfileManager) Add(name string, cfg *TunnelConfig) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: profile name is required", ErrInvalidProfile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.findByName(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	profile := &Profile{
		ID:        common.GenerateID(),
		Name:      name,
		Endpoint:  cfg.Endpoint,
		PublicKey: cfg.LocalPublicKey().String(),
		Created:   time.Now(),
	}
	profile.ConfigPath = filepath.Join(pm.configDir, common.ProfileConfigsDir, profile.ID+".conf")

	if err := pm.secrets.Store(profile.ID, cfg.PrivateKey.String()); err != nil {
		return nil, fmt.Errorf("failed to store private key: %w", err)
	}
	if err := os.WriteFile(profile.ConfigPath, cfg.MarshalWGQuick(false), 0600); err != nil {
		_ = pm.secrets.Delete(profile.ID)
		return nil, fmt.Errorf("failed to write config file: %w", err)
	}

	pm.profiles = append(pm.profiles, profile)
	if err := pm.save(); err != nil {
		pm.profiles = pm.profiles[:len(pm.profiles)-1]
		if rerr := os.Remove(profile.ConfigPath); rerr != nil {
			common.LogWarn("Failed to remove config file for %s: %v", profile.Name, rerr)
		}
		if derr := pm.secrets.Delete(profile.ID); derr != nil {
			common.LogWarn("Failed to remove private key for %s: %v", profile.Name, derr)
		}
		return nil, err
	}

	common.LogInfo("Profile %q imported (%s)", profile.Name, common.ShortID(profile.ID))
	cp := *profile
	return &cp, nil
}

// Remove removes a profile by ID, together with its stored config and key.
func (pm *ProfileManager) Remove(id string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i, profile := range pm.profiles {
		if profile.ID != id {
			continue
		}
		if err := os.Remove(profile.ConfigPath); err != nil && !os.IsNotExist(err) {
			common.LogWarn("Failed to remove config file for %s: %v", profile.Name, err)
		}
		if err := pm.secrets.Delete(profile.ID); err != nil && !errors.Is(err, common.ErrCredentialsNotFound) {
			common.LogWarn("Failed to remove private key for %s: %v", profile.Name, err)
		}

		pm.profiles = append(pm.profiles[:i], pm.profiles[i+1:]...)
		return pm.save()
	}
	return ErrProfileNotFound
}

// Get retrieves a copy of a profile by ID.
func (pm *ProfileManager) Get(id string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, profile := range pm.profiles {
		if profile.ID == id {
			cp := *profile
			return &cp, nil
		}
	}
	return nil, ErrProfileNotFound
}

// GetByName retrieves a copy of a profile by name.
func (pm *ProfileManager) GetByName(name string) (*Profile, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if p := pm.findByName(name); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, ErrProfileNotFound
}

// Resolve looks a profile up by name, full ID or unique ID prefix.
func (pm *ProfileManager) Resolve(ref string) (*Profile, error) {
	if p, err := pm.GetByName(ref); err == nil {
		return p, nil
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var match *Profile
	for _, profile := range pm.profiles {
		if profile.ID == ref {
			cp := *profile
			return &cp, nil
		}
		if len(ref) >= 4 && strings.HasPrefix(profile.ID, ref) {
			if match != nil {
				return nil, fmt.Errorf("%w: %q matches more than one profile", ErrProfileNotFound, ref)
			}
			match = profile
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, ref)
	}
	cp := *match
	return &cp, nil
}

// List returns copies of all profiles.
func (pm *ProfileManager) List() []*Profile {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]*Profile, 0, len(pm.profiles))
	for _, p := range pm.profiles {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// Update replaces the stored metadata of an existing profile.
func (pm *ProfileManager) Update(profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	for i, p := range pm.profiles {
		if p.ID == profile.ID {
			if other := pm.findByName(profile.Name); other != nil && other.ID != profile.ID {
				return fmt.Errorf("%w: %s", ErrDuplicateName, profile.Name)
			}
			cp := *profile
			pm.profiles[i] = &cp
			return pm.save()
		}
	}
	return ErrProfileNotFound
}

// MarkUsed updates the LastUsed timestamp for a profile.
func (pm *ProfileManager) MarkUsed(id string) error {
	profile, err := pm.Get(id)
	if err != nil {
		return err
	}
	profile.LastUsed = time.Now()
	return pm.Update(profile)
}

// SetAutoConnect marks id as the auto-connect profile. At most one profile
// auto-connects, so every other profile is cleared.
func (pm *ProfileManager) SetAutoConnect(id string, enabled bool) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	found := false
	for _, p := range pm.profiles {
		if p.ID == id {
			p.AutoConnect = enabled
			found = true
		} else if enabled {
			p.AutoConnect = false
		}
	}
	if !found {
		return ErrProfileNotFound
	}
	return pm.save()
}

// AutoConnectProfile returns the profile marked for auto-connect, if any.
func (pm *ProfileManager) AutoConnectProfile() (*Profile, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, p := range pm.profiles {
		if p.AutoConnect {
			cp := *p
			return &cp, true
		}
	}
	return nil, false
}

// TunnelConfig assembles the full tunnel configuration of a profile,
// reading its private key from the credential store. Callers should Wipe
// the result when done.
func (pm *ProfileManager) TunnelConfig(id string) (*TunnelConfig, error) {
	profile, err := pm.Get(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(profile.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config for %s: %w", profile.Name, err)
	}
	cfg, err := ParseWGQuick(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	secret, err := pm.secrets.Get(profile.ID)
	if err != nil {
		return nil, fmt.Errorf("private key for %s: %w", profile.Name, err)
	}
	key, err := ParseKey(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: stored private key for %s: %v", ErrConfigInvalid, profile.Name, err)
	}
	cfg.PrivateKey = key
	cfg.Name = profile.Name
	return cfg, nil
}

// Export renders a profile as a complete wg-quick file, private key included.
func (pm *ProfileManager) Export(id string) ([]byte, error) {
	cfg, err := pm.TunnelConfig(id)
	if err != nil {
		return nil, err
	}
	defer cfg.Wipe()
	return cfg.MarshalWGQuick(true), nil
}

func (pm *ProfileManager) findByName(name string) *Profile {
	for _, p := range pm.profiles {
		if p.Name == name {
			return p
		}
	}
	return nil
}
