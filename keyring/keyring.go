// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
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
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/vpnctl/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = common.AppID
)

// Common errors returned by keyring operations.
var (
	ErrNotFound    = errors.New("credential not found")
	ErrAccess      = errors.New("keyring access denied")
	ErrUnavailable = errors.New("keyring service unavailable")
)

// Storage backend state
var (
	initOnce        sync.Once
	useLocalStorage bool
	localStoreMu    sync.RWMutex
	localStore      map[string]string
	localStoreFile  string
	encryptionKey   []byte
)

func initStorage() {
	initOnce.Do(func() {
		// Try system keyring first
		testKey := "vpnctl-test-init"
		if err := keyring.Set(serviceName, testKey, "test"); err == nil {
			keyring.Delete(serviceName, testKey)
			useLocalStorage = false
			return
		}
		configDir, err := common.GetConfigDir()
		if err != nil {
			configDir = os.TempDir()
		}
		useLocalStorage = true
		initLocalStorage(configDir)
	})
}

func initLocalStorage(dir string) {
	localStoreMu.Lock()
	defer localStoreMu.Unlock()

	localStoreFile = filepath.Join(dir, common.CredentialsFileName)

	// Derive the encryption key from machine-specific data
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, getMachineID(), os.Getuid())
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(common.AppID), []byte("local credential store"))
	encryptionKey = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, encryptionKey); err != nil {
		sum := sha256.Sum256([]byte(secret))
		encryptionKey = sum[:]
	}

	// Load existing credentials
	localStore = make(map[string]string)
	loadLocalStore()
}

func getMachineID() string {
	// Try to read machine-id
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	// Fallback
	return "default-machine-id"
}

// loadLocalStore must be called with localStoreMu held.
func loadLocalStore() {
	data, err := os.ReadFile(localStoreFile)
	if err != nil {
		return
	}

	decrypted, err := decrypt(data)
	if err != nil {
		return
	}

	json.Unmarshal(decrypted, &localStore)
}

func saveLocalStore() error {
	localStoreMu.RLock()
	data, err := json.Marshal(localStore)
	path := localStoreFile
	localStoreMu.RUnlock()
	if err != nil {
		return err
	}

	encrypted, err := encrypt(data)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, encrypted, 0600); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	return nil
}

func encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrEncryption, err)
	}

	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryption, err)
	}

	aead, err := chacha20poly1305.NewX(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryption, err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryption, err)
	}
	return plaintext, nil
}

// Store saves a secret for a VPN profile.
func Store(profileID string, password string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}
	initStorage()

	if useLocalStorage {
		localStoreMu.Lock()
		localStore[profileID] = password
		localStoreMu.Unlock()
		return saveLocalStore()
	}

	if err := keyring.Set(serviceName, profileID, password); err != nil {
		// Fallback to local storage
		configDir, dirErr := common.GetConfigDir()
		if dirErr != nil {
			return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
		}
		useLocalStorage = true
		initLocalStorage(configDir)
		localStoreMu.Lock()
		localStore[profileID] = password
		localStoreMu.Unlock()
		return saveLocalStore()
	}
	return nil
}

// Get retrieves a secret for a VPN profile.
func Get(profileID string) (string, error) {
	if profileID == "" {
		return "", errors.New("profile ID cannot be empty")
	}
	initStorage()

	if useLocalStorage {
		localStoreMu.RLock()
		password, exists := localStore[profileID]
		localStoreMu.RUnlock()
		if !exists {
			return "", ErrNotFound
		}
		return password, nil
	}

	password, err := keyring.Get(serviceName, profileID)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %w", ErrAccess, err)
	}
	return password, nil
}

// Delete removes a secret for a VPN profile.
func Delete(profileID string) error {
	if profileID == "" {
		return errors.New("profile ID cannot be empty")
	}
	initStorage()

	if useLocalStorage {
		localStoreMu.Lock()
		delete(localStore, profileID)
		localStoreMu.Unlock()
		return saveLocalStore()
	}

	if err := keyring.Delete(serviceName, profileID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrAccess, err)
	}
	return nil
}

// Exists checks if a credential exists for a VPN profile.
func Exists(profileID string) bool {
	_, err := Get(profileID)
	return err == nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// StoreCredentials saves the tunnel username and password of a profile
// as one entry.
func StoreCredentials(profileID, username, password string) error {
	data, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	return Store(profileID, string(data))
}

// GetCredentials returns the tunnel username and password of a profile.
func GetCredentials(profileID string) (username, password string, err error) {
	data, err := Get(profileID)
	if err != nil {
		return "", "", err
	}
	var c credentials
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return "", "", fmt.Errorf("%w: stored entry is not a credential pair", common.ErrCredentialsNotFound)
	}
	return c.Username, c.Password, nil
}
