// Package keyfile implements the node's on-disk identity file: a
// password-derived AES-256-GCM envelope wrapped around an Argon2id-stretched
// key, holding the ed25519 networking keypair, a JWT secret, and a
// file-system key. The sealed payload is the JSON encoding of Material
// inside a JSON envelope (Disk); it is not a length-prefixed field layout.
package keyfile

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters used to derive the keyfile's wrapping key from the
// user's password. Memory, lanes, salt and key sizes match RFC 9106's
// second recommended option; the time cost is 1 pass, where that option
// uses 3.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

// Material is the plaintext payload sealed inside a keyfile.
type Material struct {
	Username   string        `json:"username"`
	NetPublic  []byte        `json:"net_public"`
	NetPrivate []byte        `json:"net_private"`
	JWTSecret  []byte        `json:"jwt_secret"`
	FileKey    []byte        `json:"file_key"`
	// Routers caches the namehashes of this identity's router nodes, as
	// last seen on-chain, so a registration handshake can fall back to a
	// known-good router list when the registry is unreachable at boot
	// instead of failing outright.
	Routers []common.Hash `json:"routers,omitempty"`
}

// Disk is the on-disk, JSON-serialized keyfile envelope: an Argon2id salt
// plus an AES-256-GCM sealed Material (nonce prepended).
type Disk struct {
	Salt       []byte `json:"salt"`
	Ciphertext []byte `json:"ciphertext"`
}

// New generates fresh identity material for username: an ed25519 net
// keypair, a random JWT secret, and a random file key.
func New(username string) (Material, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Material{}, fmt.Errorf("failed to generate net keypair: %w", err)
	}
	jwtSecret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, jwtSecret); err != nil {
		return Material{}, fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	fileKey := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, fileKey); err != nil {
		return Material{}, fmt.Errorf("failed to generate file key: %w", err)
	}
	return Material{
		Username:   username,
		NetPublic:  pub,
		NetPrivate: priv,
		JWTSecret:  jwtSecret,
		FileKey:    fileKey,
	}, nil
}

// deriveKey stretches password into a 32-byte AES-256 key using Argon2id.
func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// Seal encrypts mat under password, producing a Disk envelope ready to write
// to the node's home directory.
func Seal(mat Material, password string) (Disk, error) {
	plaintext, err := json.Marshal(mat)
	if err != nil {
		return Disk{}, fmt.Errorf("failed to marshal key material: %w", err)
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Disk{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return Disk{}, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Disk{}, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Disk{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return Disk{Salt: salt, Ciphertext: ciphertext}, nil
}

// Unseal decrypts a Disk envelope with password, returning the wrapped
// Material. A wrong password surfaces as a GCM authentication failure.
func Unseal(d Disk, password string) (Material, error) {
	key := deriveKey(password, d.Salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return Material{}, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Material{}, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(d.Ciphertext) < nonceSize {
		return Material{}, fmt.Errorf("keyfile ciphertext too short")
	}
	nonce, ciphertext := d.Ciphertext[:nonceSize], d.Ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Material{}, fmt.Errorf("failed to decrypt keyfile: wrong password or corrupt file: %w", err)
	}

	var mat Material
	if err := json.Unmarshal(plaintext, &mat); err != nil {
		return Material{}, fmt.Errorf("failed to unmarshal key material: %w", err)
	}
	return mat, nil
}

// Load reads and unseals a keyfile from path.
func Load(path, password string) (Material, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Material{}, fmt.Errorf("failed to read keyfile: %w", err)
	}
	var d Disk
	if err := json.Unmarshal(raw, &d); err != nil {
		return Material{}, fmt.Errorf("failed to parse keyfile: %w", err)
	}
	return Unseal(d, password)
}

// Save seals mat under password and writes it to path.
func Save(path string, mat Material, password string) error {
	d, err := Seal(mat, password)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal keyfile: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write keyfile: %w", err)
	}
	return nil
}

// Exists reports whether a keyfile is already present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
