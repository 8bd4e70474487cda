// Package wallet derives the single-key P2WPKH wallet used for spending:
// BIP39 mnemonic -> seed -> BIP32 key at m/44'/coin'/0'/0/0 -> bech32 address.
//
// It also holds the closed set of network variants and the Argon2id +
// AES-256-GCM envelope used to persist wallet secrets.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/bsv-blockchain/go-sdk/compat/bip39"
	"golang.org/x/crypto/argon2"
)

const (
	// Mnemonic entropy sizes.
	Mnemonic12Words = 128 // 12-word mnemonic
	Mnemonic24Words = 256 // 24-word mnemonic

	// Argon2id parameters for secret encryption.
	Argon2Time        = 3
	Argon2Memory      = 64 * 1024 // 64 MB
	Argon2Parallelism = 4
	Argon2KeyLen      = 32

	// Encryption format sizes.
	SaltLen     = 16
	NonceLen    = 12
	ChecksumLen = 4
)

// GenerateMnemonic creates a new BIP39 mnemonic with the specified entropy bits.
// Use Mnemonic12Words (128) for 12 words or Mnemonic24Words (256) for 24 words.
func GenerateMnemonic(entropyBits int) (string, error) {
	if entropyBits != Mnemonic12Words && entropyBits != Mnemonic24Words {
		return "", ErrInvalidEntropy
	}

	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("wallet: failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("wallet: failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic string is valid BIP39.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives a 64-byte BIP39 seed from mnemonic + optional passphrase.
//
//	seed = PBKDF2(mnemonic, "mnemonic"+passphrase, 2048, 64, SHA512)
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, ErrInvalidMnemonic)
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivationFailed, err)
	}

	return seed, nil
}

// CreateWallet generates a fresh 12-word mnemonic and derives its wallet.
// The caller is responsible for showing or persisting the mnemonic.
func CreateWallet(net Network) (*KeyMaterial, string, error) {
	mnemonic, err := GenerateMnemonic(Mnemonic12Words)
	if err != nil {
		return nil, "", err
	}
	km, err := DeriveWalletFromMnemonic(mnemonic, "", net)
	if err != nil {
		return nil, "", err
	}
	return km, mnemonic, nil
}

// EncryptSecret encrypts a secret with Argon2id + AES-256-GCM.
//
// Output format: salt(16B) || nonce(12B) || AES-GCM(argon2id(password,salt), nonce, secret||checksum)
//
// The checksum is SHA256(secret)[:4] for verifying correct decryption.
func EncryptSecret(secret []byte, password string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("wallet: failed to generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(secret)
	plaintext := make([]byte, len(secret)+ChecksumLen)
	copy(plaintext, secret)
	copy(plaintext[len(secret):], sum[:ChecksumLen])

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("wallet: failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, 0, SaltLen+NonceLen+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

// DecryptSecret reverses EncryptSecret and verifies the embedded checksum.
func DecryptSecret(encrypted []byte, password string) ([]byte, error) {
	if len(encrypted) < SaltLen+NonceLen+ChecksumLen {
		return nil, ErrDecryptionFailed
	}

	salt := encrypted[:SaltLen]
	nonce := encrypted[SaltLen : SaltLen+NonceLen]
	ciphertext := encrypted[SaltLen+NonceLen:]

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(plaintext) < ChecksumLen {
		return nil, ErrDecryptionFailed
	}

	secret := plaintext[:len(plaintext)-ChecksumLen]
	stored := plaintext[len(plaintext)-ChecksumLen:]
	sum := sha256.Sum256(secret)
	if subtle.ConstantTimeCompare(stored, sum[:ChecksumLen]) != 1 {
		return nil, ErrChecksumMismatch
	}
	return secret, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, Argon2Time, Argon2Memory, Argon2Parallelism, Argon2KeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("wallet: AES cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wallet: GCM creation failed: %w", err)
	}
	return gcm, nil
}
