package fs

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

var (
	// ErrPassphraseRequired is returned when opening a sealed file without a passphrase.
	ErrPassphraseRequired = errors.New("state file is sealed: passphrase required")

	// ErrWrongPassphrase is returned when a sealed file cannot be opened with
	// the given passphrase, or was tampered with.
	ErrWrongPassphrase = errors.New("state file could not be opened: wrong passphrase or corrupt file")
)

// sealed files start with this line, followed by base64(salt | nonce | box)
var sealPrefix = []byte("boxconn-sealed-v1\n")

const (
	saltSize  = 16
	nonceSize = 24

	// scrypt parameters recommended for interactive logins
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealPrefix)
}

func deriveKey(passphrase, salt []byte) (*[32]byte, error) {
	k, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], k)
	return &key, nil
}

func seal(plain, passphrase []byte) ([]byte, error) {
	var salt [saltSize]byte
	var nonce [nonceSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	key, err := deriveKey(passphrase, salt[:])
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 0, saltSize+nonceSize+len(plain)+secretbox.Overhead)
	raw = append(raw, salt[:]...)
	raw = append(raw, nonce[:]...)
	raw = secretbox.Seal(raw, plain, &nonce, key)

	out := make([]byte, len(sealPrefix)+base64.StdEncoding.EncodedLen(len(raw)))
	copy(out, sealPrefix)
	base64.StdEncoding.Encode(out[len(sealPrefix):], raw)
	return out, nil
}

func open(data, passphrase []byte) ([]byte, error) {
	enc := bytes.TrimSpace(data[len(sealPrefix):])
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(enc)))
	n, err := base64.StdEncoding.Decode(raw, enc)
	if err != nil || n < saltSize+nonceSize+secretbox.Overhead {
		return nil, ErrWrongPassphrase
	}
	raw = raw[:n]

	var nonce [nonceSize]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceSize])
	key, err := deriveKey(passphrase, raw[:saltSize])
	if err != nil {
		return nil, err
	}
	plain, ok := secretbox.Open(nil, raw[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}
