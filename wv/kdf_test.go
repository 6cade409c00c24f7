package wv

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// RFC 4493, section 4
func TestCmacAES(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")

	tests := []struct {
		msg  string
		want string
	}{
		{msg: "", want: "bb1d6929e95937287fa37d129b756746"},
		{msg: "6bc1bee22e409f96e93d7e117393172a", want: "070a16b46b4d4144f79bdd9dd04a287c"},
	}
	for _, tt := range tests {
		mac, err := cmacAES(mustHex(t, tt.msg), key)
		require.NoError(t, err)
		assert.Equal(t, tt.want, hex.EncodeToString(mac))
	}
}

// Vectors were computed with `openssl mac -cipher AES-128-CBC CMAC` over
// counter || label || 0x00 || msg || bits, one call per counter.
func TestDeriveKeys(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		enc   string
		auth1 string
		auth2 string
	}{
		{
			name:  "license request",
			msg:   "license request",
			enc:   "8093d96f7874ec0ff4e0b64a5eb7c948",
			auth1: "c79f6d7a51fe5e4dc95acbaddc7819783b42eb9d5e94368cc31c2d3cd656518a",
			auth2: "2e4a8dcf5566b738fe5dc0c76682685fdeb803620f176aa05b68c99e6a54b594",
		},
		{
			name:  "empty message",
			msg:   "",
			enc:   "babf4907b1ba6f87a818a85df829cd61",
			auth1: "0a4f4b33a15bcbe6bcf87e9cd79a3566d38f281ab4d803e7ff7ca86c6f42d25e",
			auth2: "25208f6621789e9b7e8064f5ddd5da0ef923e4bca7c3bd9fa6645f0a187479a6",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, err := DeriveKeys(mustHex(t, "000102030405060708090a0b0c0d0e0f"), []byte(tt.msg))
			require.NoError(t, err)

			assert.Equal(t, tt.enc, hex.EncodeToString(keys.Enc))
			assert.Equal(t, tt.auth1, hex.EncodeToString(keys.Auth1))
			assert.Equal(t, tt.auth2, hex.EncodeToString(keys.Auth2))
		})
	}
}

func TestDeriveKeysInvalidKey(t *testing.T) {
	_, err := DeriveKeys([]byte("short"), []byte("license request"))
	assert.Error(t, err)
}
