package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// letters has exactly 64 symbols so a random byte maps onto it without bias.
const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

var (
	ErrInvalidKeyLength = errors.New("key must be 128 or 256 bits")
	ErrInvalidIV        = errors.New("iv must be 16 bytes")
	ErrCiphertextShort  = errors.New("ciphertext shorter than iv plus one block")
	ErrNotBlockAligned  = errors.New("ciphertext is not a multiple of the block size")
	ErrInvalidPadding   = errors.New("invalid pkcs7 padding")
)

const (
	AlgorithmAES = "aes"
	ModeCBC      = "cbc"
)

// CipherParams describes the symmetric cipher applied to payloads.
type CipherParams struct {
	Algorithm string
	Mode      string
	KeyLength int
	Key       []byte
}

// NewCipherParams returns AES-CBC params for key, which must be 16 or 32 bytes.
func NewCipherParams(key []byte) (*CipherParams, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	return &CipherParams{
		Algorithm: AlgorithmAES,
		Mode:      ModeCBC,
		KeyLength: len(key) * 8,
		Key:       append([]byte(nil), key...),
	}, nil
}

// Encoding is the message encoding step these params produce, e.g. cipher+aes-256-cbc.
func (p *CipherParams) Encoding() string {
	return fmt.Sprintf("cipher+%s-%d-%s", p.Algorithm, p.KeyLength, p.Mode)
}

// GenerateRandomKey returns a random key of the given size in bits (128 or 256).
func GenerateRandomKey(bits int) ([]byte, error) {
	if bits != 128 && bits != 256 {
		return nil, ErrInvalidKeyLength
	}
	key := make([]byte, bits/8)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateString returns a random URL-safe string of length n drawn from
// letters, digits, '-' and '_'.
func GenerateString(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("length must be positive")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	for i, c := range buf {
		buf[i] = letters[c&63]
	}
	return string(buf), nil
}

// Encrypt encrypts plaintext with a fresh random IV. The IV is prepended to the ciphertext.
func Encrypt(p *CipherParams, plaintext []byte) ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	return EncryptWithIV(p, iv, plaintext)
}

// EncryptWithIV encrypts plaintext with the given IV and returns iv || ciphertext.
func EncryptWithIV(p *CipherParams, iv, plaintext []byte) ([]byte, error) {
	block, err := newBlock(p)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, ErrInvalidIV
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// Decrypt reverses Encrypt: it splits off the IV, decrypts and strips padding.
func Decrypt(p *CipherParams, data []byte) ([]byte, error) {
	block, err := newBlock(p)
	if err != nil {
		return nil, err
	}
	if len(data) < 2*aes.BlockSize {
		return nil, ErrCiphertextShort
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, ErrNotBlockAligned
	}
	iv, body := data[:aes.BlockSize], data[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	return pkcs7Unpad(plain, aes.BlockSize)
}

// EncryptToBase64 encrypts data with AES-CBC and returns base64 of iv || ciphertext.
func EncryptToBase64(p *CipherParams, plaintext []byte) (string, error) {
	out, err := Encrypt(p, plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptFromBase64 decodes and decrypts a value produced by EncryptToBase64.
func DecryptFromBase64(p *CipherParams, encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return Decrypt(p, data)
}

func newBlock(p *CipherParams) (cipher.Block, error) {
	if p == nil {
		return nil, errors.New("cipher params are required")
	}
	if p.Algorithm != AlgorithmAES || p.Mode != ModeCBC {
		return nil, fmt.Errorf("unsupported cipher %s-%s", p.Algorithm, p.Mode)
	}
	if len(p.Key) != 16 && len(p.Key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	return aes.NewCipher(p.Key)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	out := make([]byte, len(data), len(data)+padding)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPadding
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-padding], nil
}
