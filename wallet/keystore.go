// Package wallet provides key management and transaction signing helpers.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tolelom/tolmarket/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	keystoreVersion = 1
	kdfName         = "pbkdf2-sha256"
	kdfIterations   = 310_000
	// minIterations is the weakest KDF a keystore may declare.
	minIterations = 100_000
	saltLen       = 16
	aesKeyLen     = 32
)

// ErrDecrypt is returned for a wrong password or a tampered keystore.
var ErrDecrypt = errors.New("wrong password or corrupted keystore")

// keystoreJSON is the on-disk format. Binary fields are base64.
type keystoreJSON struct {
	Version    int       `json:"version"`
	Address    string    `json:"address"`
	KDF        kdfParams `json:"kdf"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
}

type kdfParams struct {
	Name       string `json:"name"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
}

func (p kdfParams) derive(password string) ([]byte, error) {
	if p.Name != kdfName {
		return nil, fmt.Errorf("unsupported kdf %q", p.Name)
	}
	if p.Iterations < minIterations {
		return nil, fmt.Errorf("kdf iterations %d below %d", p.Iterations, minIterations)
	}
	salt, err := base64.StdEncoding.DecodeString(p.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	return pbkdf2.Key([]byte(password), salt, p.Iterations, aesKeyLen, sha256.New), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext under key with a fresh nonce.
func seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

func open(key, nonce, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, ErrDecrypt
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncryptKey returns priv as a password-protected keystore document.
// The AES-256-GCM key is derived with PBKDF2-SHA256.
func EncryptKey(priv crypto.PrivateKey, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("keystore password must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	ks := keystoreJSON{
		Version: keystoreVersion,
		Address: priv.Address().Hex(),
		KDF:     kdfParams{Name: kdfName, Iterations: kdfIterations, Salt: base64.StdEncoding.EncodeToString(salt)},
	}
	key, err := ks.KDF.derive(password)
	if err != nil {
		return nil, err
	}
	nonce, ct, err := seal(key, priv)
	if err != nil {
		return nil, err
	}
	ks.Nonce = base64.StdEncoding.EncodeToString(nonce)
	ks.Ciphertext = base64.StdEncoding.EncodeToString(ct)
	return json.MarshalIndent(ks, "", "  ")
}

// DecryptKey opens a document produced by EncryptKey.
func DecryptKey(data []byte, password string) (crypto.PrivateKey, error) {
	var ks keystoreJSON
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", ks.Version)
	}
	key, err := ks.KDF.derive(password)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(ks.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(ks.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plain, err := open(key, nonce, ct)
	if err != nil {
		return nil, err
	}
	if got := crypto.PrivateKey(plain).Address().Hex(); got != ks.Address {
		return nil, fmt.Errorf("keystore address %s does not match key %s", ks.Address, got)
	}
	return plain, nil
}

// SaveKey encrypts priv with password and writes it to path, readable by
// the owner only.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	data, err := EncryptKey(priv, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadKey decrypts the keystore at path using password.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecryptKey(data, password)
}
