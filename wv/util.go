package wv

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rsa"
	"encoding/asn1"
	"fmt"
	"io"

	"github.com/chmike/cmac-go"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

func Pointer[T any](v T) *T {
	return &v
}

func Pkcs7Padding(data []byte, blockSize int) []byte {
	padding := blockSize - (len(data) % blockSize)
	padText := bytes.Repeat([]byte{byte(padding)}, padding)
	return append(data[:len(data):len(data)], padText...)
}

func Pkcs7Unpadding(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length: %d", len(data))
	}
	paddingLength := int(data[len(data)-1])
	if paddingLength < 1 || paddingLength > blockSize {
		return nil, fmt.Errorf("invalid padding length: %d", paddingLength)
	}
	for _, b := range data[len(data)-paddingLength:] {
		if int(b) != paddingLength {
			return nil, fmt.Errorf("invalid padding byte: %d", b)
		}
	}

	return data[:len(data)-paddingLength], nil
}

// ParsePublicKey parses a PKCS#1 DER RSA public key.
func ParsePublicKey(pubKey []byte) (*rsa.PublicKey, error) {
	publicKey := &rsa.PublicKey{}
	if _, err := asn1.Unmarshal(pubKey, publicKey); err != nil {
		return nil, fmt.Errorf("unmarshal asn1: %w", err)
	}

	return publicKey, nil
}

func cmacAES(data, key []byte) ([]byte, error) {
	hash, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("new cmac: %w", err)
	}

	if _, err = hash.Write(data); err != nil {
		return nil, fmt.Errorf("write cmac: %w", err)
	}

	return hash.Sum(nil), nil
}

// EncryptAES encrypts plaintext with AES-CBC and PKCS#7 padding.
func EncryptAES(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid iv length: %d", len(iv))
	}

	padded := Pkcs7Padding(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

// DecryptAES decrypts AES-CBC ciphertext and strips its PKCS#7 padding.
func DecryptAES(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("invalid iv length: %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext length: %d", len(ciphertext))
	}

	mode := cipher.NewCBCDecrypter(block, iv)

	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	unpaddedPlaintext, err := Pkcs7Unpadding(plaintext, aes.BlockSize)
	if err != nil {
		return nil, err
	}

	return unpaddedPlaintext, nil
}

// ParseServiceCert parses a service certificate which can be used in privacy mode.
func ParseServiceCert(serviceCert []byte) (*wvpb.DrmCertificate, *wvpb.SignedDrmCertificate, error) {
	msg := &wvpb.SignedMessage{}
	if err := proto.Unmarshal(serviceCert, msg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal signed message: %w", err)
	}

	signedCert := &wvpb.SignedDrmCertificate{}
	if err := proto.Unmarshal(msg.GetMsg(), signedCert); err != nil {
		return nil, nil, fmt.Errorf("unmarshal signed drm certificate: %w", err)
	}

	cert := &wvpb.DrmCertificate{}
	if err := proto.Unmarshal(signedCert.GetDrmCertificate(), cert); err != nil {
		return nil, nil, fmt.Errorf("unmarshal drm certificate: %w", err)
	}
	if len(cert.GetPublicKey()) == 0 {
		return nil, nil, fmt.Errorf("drm certificate has no public key")
	}

	return cert, signedCert, nil
}

func randomBytes(r io.Reader, length int) ([]byte, error) {
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}
