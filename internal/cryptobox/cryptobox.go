// Package cryptobox implements the crypto envelope the connection FSM wraps
// every post-handshake message in: a 16-byte random IV followed by an AES
// CFB-mode ciphertext under a fixed, process-wide 16-byte key. This is the
// "symmetric-cipher primitive" the specification explicitly treats as an
// external collaborator (SPEC_FULL.md §1) — it is implemented against
// crypto/aes and crypto/cipher directly rather than through a third-party
// library, which is the one deliberate standard-library choice in this
// module (see DESIGN.md).
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// KeySize and IVSize are fixed by the wire protocol (SPEC_FULL.md §6).
const (
	KeySize = 16
	IVSize  = 16
)

// ErrCiphertextTooShort is returned by Decrypt when buf is shorter than one
// IV, meaning it cannot possibly hold a valid envelope.
var ErrCiphertextTooShort = errors.New("cryptobox: ciphertext shorter than one iv")

// Box encrypts and decrypts messages under one fixed 16-byte key, shared by
// every connection in the process. Connections reference a Box, they never
// copy the key material (SPEC_FULL.md §5).
type Box struct {
	block cipher.Block
}

// New constructs a Box from a 16-byte key.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptobox: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new cipher: %w", err)
	}
	return &Box{block: block}, nil
}

// Encrypt generates a fresh, cryptographically random IV, enciphers
// plaintext under (key, IV) in CFB mode, and returns IV ++ ciphertext. The
// IV is unique per call by construction of crypto/rand (SPEC_FULL.md §4.2).
func (b *Box) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, IVSize+len(plaintext))
	iv := out[:IVSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cryptobox: generate iv: %w", err)
	}
	stream := cipher.NewCFBEncrypter(b.block, iv)
	stream.XORKeyStream(out[IVSize:], plaintext)
	return out, nil
}

// Decrypt splits off the leading IV, deciphers the remainder in CFB mode,
// and returns the plaintext. It does not validate framing; a corrupt or
// mis-keyed ciphertext decrypts to garbage that the frame codec (C1) will
// reject downstream (SPEC_FULL.md §4.2, §7).
func (b *Box) Decrypt(envelope []byte) ([]byte, error) {
	if len(envelope) < IVSize {
		return nil, ErrCiphertextTooShort
	}
	iv := envelope[:IVSize]
	ciphertext := envelope[IVSize:]
	plaintext := make([]byte, len(ciphertext))
	stream := cipher.NewCFBDecrypter(b.block, iv)
	stream.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
