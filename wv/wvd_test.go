package wv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWVDRoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		data        wvdData
		wantVersion byte
	}{
		{
			name: "without vmp",
			data: wvdData{
				info:       DeviceInfo{Type: DeviceTypeAndroid, SecurityLevel: 3, Flags: FlagSendKeyControlNonce},
				privateKey: []byte("private key"),
				clientID:   []byte("client id"),
			},
			wantVersion: wvdVersion,
		},
		{
			name: "with vmp",
			data: wvdData{
				info:       DeviceInfo{Type: DeviceTypeChrome, SecurityLevel: 1},
				privateKey: []byte("private key"),
				clientID:   []byte("client id"),
				vmp:        []byte("vmp"),
			},
			wantVersion: wvdVersionVMP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.data.marshal()
			require.NoError(t, err)
			assert.Equal(t, []byte("WVD"), b[:3])
			assert.Equal(t, tt.wantVersion, b[3])

			got, err := parseWVD(bytes.NewReader(b))
			require.NoError(t, err)
			assert.Equal(t, tt.data, *got)
		})
	}
}

func TestParseWVDLayout(t *testing.T) {
	b := []byte{
		'W', 'V', 'D', 2, 2, 3, 0,
		0x00, 0x02, 0xaa, 0xbb,
		0x00, 0x01, 0xcc,
	}

	got, err := parseWVD(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, DeviceInfo{Type: DeviceTypeAndroid, SecurityLevel: 3}, got.info)
	assert.Equal(t, []byte{0xaa, 0xbb}, got.privateKey)
	assert.Equal(t, []byte{0xcc}, got.clientID)
	assert.Nil(t, got.vmp)
}

func TestParseWVDErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "bad signature", data: []byte{'W', 'V', 'X', 2, 2, 3, 0, 0, 0, 0, 0}},
		{name: "unsupported version", data: []byte{'W', 'V', 'D', 9, 2, 3, 0, 0, 0, 0, 0}},
		{name: "truncated block", data: []byte{'W', 'V', 'D', 2, 2, 3, 0, 0, 4, 0xaa}},
		{name: "missing client id", data: []byte{'W', 'V', 'D', 2, 2, 3, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseWVD(bytes.NewReader(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestPkcs7(t *testing.T) {
	padded := Pkcs7Padding([]byte("0123456789"), 16)
	assert.Len(t, padded, 16)
	assert.Equal(t, byte(6), padded[15])

	unpadded, err := Pkcs7Unpadding(padded, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), unpadded)

	full := Pkcs7Padding(make([]byte, 16), 16)
	assert.Len(t, full, 32)

	padded[14] = 0
	_, err = Pkcs7Unpadding(padded, 16)
	assert.Error(t, err)

	_, err = Pkcs7Unpadding([]byte{1, 2, 3}, 16)
	assert.Error(t, err)
}

func TestAESRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 16)
	iv := bytes.Repeat([]byte{2}, 16)

	ciphertext, err := EncryptAES(key, iv, []byte("content key"))
	require.NoError(t, err)
	assert.Len(t, ciphertext, 16)

	plaintext, err := DecryptAES(key, iv, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("content key"), plaintext)

	_, err = DecryptAES(key, iv[:8], ciphertext)
	assert.Error(t, err)
	_, err = DecryptAES(key, iv, ciphertext[:15])
	assert.Error(t, err)
}
