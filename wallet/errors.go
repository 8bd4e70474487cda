package wallet

import "errors"

var (
	// ErrInvalidMnemonic indicates the mnemonic fails BIP39 validation.
	ErrInvalidMnemonic = errors.New("wallet: invalid BIP39 mnemonic")

	// ErrInvalidEntropy indicates entropy bits is not 128 or 256.
	ErrInvalidEntropy = errors.New("wallet: entropy bits must be 128 or 256")

	// ErrInvalidSeed indicates the seed is outside the 128..512 bit range.
	ErrInvalidSeed = errors.New("wallet: seed must be 16 to 64 bytes")

	// ErrDerivationFailed indicates BIP32 key derivation failed.
	ErrDerivationFailed = errors.New("wallet: key derivation failed")

	// ErrKeyOutOfRange indicates a private scalar is zero or not below the curve order.
	ErrKeyOutOfRange = errors.New("wallet: private key outside valid curve range")

	// ErrInvalidPrivateKey indicates an imported private key could not be decoded.
	ErrInvalidPrivateKey = errors.New("wallet: invalid private key")

	// ErrInvalidNetwork indicates an unknown network or a params value mixing
	// constants from different networks.
	ErrInvalidNetwork = errors.New("wallet: invalid network")

	// ErrDecryptionFailed indicates wrong password or corrupted ciphertext.
	ErrDecryptionFailed = errors.New("wallet: decryption failed (wrong password or corrupted data)")

	// ErrChecksumMismatch indicates checksum verification failed after decryption.
	ErrChecksumMismatch = errors.New("wallet: secret checksum mismatch")

	// ErrEmptySecret indicates there is nothing to encrypt.
	ErrEmptySecret = errors.New("wallet: secret is empty")
)
