// Package keyring provides secure storage for tunnel private keys.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/wg-manager/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "wg-manager"
	testKey     = "wg-manager-test"
)

// ErrNotFound is returned when no secret is stored for a profile.
var ErrNotFound = common.ErrCredentialsNotFound

// Options configure a Store.
type Options struct {
	// Service is the system keyring service name.
	Service string
	// Dir holds the encrypted fallback file.
	Dir string
	// FileOnly skips the system keyring.
	FileOnly bool
}

// Store keeps secrets in the system keyring or in an encrypted file.
// It implements common.CredentialStore.
type Store struct {
	service string

	mu      sync.RWMutex
	useFile bool
	file    string
	key     []byte
	local   map[string]string
}

var _ common.CredentialStore = (*Store)(nil)

// Open returns a Store rooted at the application configuration directory.
func Open() (*Store, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return New(Options{Dir: dir})
}

// New creates a Store. The system keyring is tried once; when it cannot
// be written the encrypted file is used instead.
func New(opts Options) (*Store, error) {
	if opts.Service == "" {
		opts.Service = serviceName
	}
	if opts.Dir == "" {
		return nil, errors.New("keyring: no directory for the fallback store")
	}

	s := &Store{
		service: opts.Service,
		file:    filepath.Join(opts.Dir, common.CredentialsFileName),
		local:   make(map[string]string),
	}

	if !opts.FileOnly {
		err := keyring.Set(s.service, testKey, "test")
		if err == nil {
			_ = keyring.Delete(s.service, testKey)
			common.LogDebug("Using the system keyring for private keys")
			return s, nil
		}
		common.LogWarn("System keyring unavailable (%v); using encrypted file storage", err)
	}

	if err := s.useLocalStorage(); err != nil {
		return nil, err
	}
	return s, nil
}

// Backend names the storage in use.
func (s *Store) Backend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.useFile {
		return "encrypted file"
	}
	return "system keyring"
}

func (s *Store) useLocalStorage() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.useFile {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.file), 0700); err != nil {
		return fmt.Errorf("keyring: create directory: %w", err)
	}
	key, err := deriveKey()
	if err != nil {
		return err
	}
	s.key = key
	s.useFile = true

	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("keyring: read %s: %w", s.file, err)
	}
	plain, err := s.decrypt(data)
	if err != nil {
		common.LogWarn("Stored credentials cannot be decrypted; starting empty: %v", err)
		return nil
	}
	if err := json.Unmarshal(plain, &s.local); err != nil {
		common.LogWarn("Stored credentials are corrupt; starting empty: %v", err)
		s.local = make(map[string]string)
	}
	return nil
}

// deriveKey derives the file encryption key from machine-specific data.
func deriveKey() ([]byte, error) {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, machineID(), os.Getuid())
	salt := sha256.Sum256([]byte(serviceName))

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), salt[:], []byte("credentials")), key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", common.ErrEncryption, err)
	}
	return key, nil
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

// saveLocked writes the file store. Must be called with s.mu held.
func (s *Store) saveLocked() error {
	data, err := json.Marshal(s.local)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}
	encrypted, err := s.encrypt(data)
	if err != nil {
		return err
	}
	return os.WriteFile(s.file, encrypted, 0600)
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	gcm, err := s.aead()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plain, nil
}

func (s *Store) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Store saves the secret of a profile.
func (s *Store) Store(profileID, secret string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}

	s.mu.RLock()
	useFile := s.useFile
	s.mu.RUnlock()

	if !useFile {
		err := keyring.Set(s.service, profileID, secret)
		if err == nil {
			return nil
		}
		common.LogWarn("System keyring write failed (%v); falling back to encrypted file", err)
		if err := s.useLocalStorage(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[profileID] = secret
	return s.saveLocked()
}

// Get retrieves the secret of a profile.
func (s *Store) Get(profileID string) (string, error) {
	if profileID == "" {
		return "", errors.New("profile ID cannot be empty")
	}

	s.mu.RLock()
	useFile := s.useFile
	secret, exists := s.local[profileID]
	s.mu.RUnlock()

	if useFile {
		if !exists {
			return "", ErrNotFound
		}
		return secret, nil
	}

	secret, err := keyring.Get(s.service, profileID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keyring: %w", err)
	}
	return secret, nil
}

// Delete removes the secret of a profile. Deleting a missing secret
// returns ErrNotFound.
func (s *Store) Delete(profileID string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.useFile {
		if _, ok := s.local[profileID]; !ok {
			return ErrNotFound
		}
		delete(s.local, profileID)
		return s.saveLocked()
	}

	if err := keyring.Delete(s.service, profileID); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

// Exists checks if a secret exists for a profile.
func (s *Store) Exists(profileID string) bool {
	_, err := s.Get(profileID)
	return err == nil
}
