package cacher

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// signingHash computes keccak256(logsJSON ‖ be(from) ‖ be(to)), the digest a
// LogCache's signature covers (§4.4 step 4).
func signingHash(logsJSON []byte, from, to uint64) [32]byte {
	buf := make([]byte, len(logsJSON)+16)
	copy(buf, logsJSON)
	binary.BigEndian.PutUint64(buf[len(logsJSON):], from)
	binary.BigEndian.PutUint64(buf[len(logsJSON)+8:], to)
	return crypto.Keccak256Hash(buf)
}

// signWithNetKey signs the digest with the cacher's own ed25519 net key,
// the same keypair the net driver uses to authenticate capabilities.
func signWithNetKey(priv ed25519.PrivateKey, hash [32]byte) string {
	sig := ed25519.Sign(priv, hash[:])
	return "0x" + hex.EncodeToString(sig)
}

// verifyCacheSignature recomputes the signing hash over logs and checks the
// signature against createdBy's net public key.
func verifyCacheSignature(cache LogCache, createdByPub ed25519.PublicKey) error {
	logsJSON, err := marshalLogs(cache.Logs)
	if err != nil {
		return fmt.Errorf("re-marshal logs: %w", err)
	}
	hash := signingHash(logsJSON, cache.Metadata.FromBlock, cache.Metadata.ToBlock)
	sigHex := cache.Metadata.Signature
	if len(sigHex) < 2 || sigHex[:2] != "0x" {
		return fmt.Errorf("malformed signature encoding")
	}
	sig, err := hex.DecodeString(sigHex[2:])
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if !ed25519.Verify(createdByPub, hash[:], sig) {
		return fmt.Errorf("signature does not verify against created_by")
	}
	return nil
}

// fileHash computes the content-address of a cache file's raw bytes.
func fileHash(fileBytes []byte) string {
	return "0x" + hex.EncodeToString(crypto.Keccak256(fileBytes))
}
