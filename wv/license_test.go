package wv

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	vectorSessionKey = "000102030405060708090a0b0c0d0e0f"
	vectorRequest    = "license request"
	// License{key: [{id, iv, key, type: CONTENT}]}
	vectorLicense = "1a480a104004dc1e5a4e0087f555d75ae1c9572012100f0e0d0c0b0a09080706050403020100" +
		"1a203ec0a9692fad6e049292f5205629de4bde58c88ffb46da93dc88501a534529412002"
	vectorSignature = "c9f0cb6b3b18cc7d12bfcea2728f056261a1ae20638438b293cee8e68d3a5f24"
	vectorKID       = "4004dc1e5a4e0087f555d75ae1c95720"
	vectorKey       = "00112233445566778899aabbccddeeff"
)

func vectorSession() *Session {
	return &Session{
		Id:             []byte("vector"),
		LicenseRequest: &wvpb.SignedMessage{Msg: []byte(vectorRequest)},
	}
}

func TestLoadLicense(t *testing.T) {
	s := vectorSession()

	err := s.loadLicense(mustHex(t, vectorSessionKey), &wvpb.SignedMessage{
		Type:      wvpb.SignedMessage_LICENSE.Enum(),
		Msg:       mustHex(t, vectorLicense),
		Signature: mustHex(t, vectorSignature),
	})
	require.NoError(t, err)

	assert.Equal(t, "8093d96f7874ec0ff4e0b64a5eb7c948", hex.EncodeToString(s.DerivedKeys.Enc))
	assert.Equal(t, vectorSessionKey, hex.EncodeToString(s.SessionKey))
	require.Len(t, s.Keys, 1)
	assert.Equal(t, wvpb.License_KeyContainer_CONTENT, s.Keys[0].Type)
	assert.Equal(t, vectorKID, s.Keys[0].KeyIdHex())
	assert.Equal(t, vectorKey, s.Keys[0].KeyHex())
	assert.Empty(t, s.Keys[0].Permissions)
}

func TestLoadLicenseSignatureMismatch(t *testing.T) {
	s := vectorSession()

	signature := mustHex(t, vectorSignature)
	signature[len(signature)-1] ^= 0x01

	err := s.loadLicense(mustHex(t, vectorSessionKey), &wvpb.SignedMessage{
		Type:      wvpb.SignedMessage_LICENSE.Enum(),
		Msg:       mustHex(t, vectorLicense),
		Signature: signature,
	})
	require.ErrorIs(t, err, ErrSignatureMismatch)

	assert.Empty(t, s.Keys)
	assert.Nil(t, s.SessionKey)
	assert.Nil(t, s.SignedLicense)
}

func TestLoadLicenseWrongRequest(t *testing.T) {
	s := vectorSession()
	s.LicenseRequest = &wvpb.SignedMessage{Msg: []byte("another request")}

	err := s.loadLicense(mustHex(t, vectorSessionKey), &wvpb.SignedMessage{
		Msg:       mustHex(t, vectorLicense),
		Signature: mustHex(t, vectorSignature),
	})
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestLoadLicenseInvalidSessionKey(t *testing.T) {
	s := vectorSession()

	err := s.loadLicense([]byte("short"), &wvpb.SignedMessage{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

// signVectorLicense signs license with the keys derived for vectorSession.
func signVectorLicense(t *testing.T, license *wvpb.License) *wvpb.SignedMessage {
	t.Helper()

	msg, err := proto.Marshal(license)
	require.NoError(t, err)
	derived, err := DeriveKeys(mustHex(t, vectorSessionKey), []byte(vectorRequest))
	require.NoError(t, err)

	mac := hmac.New(sha256.New, derived.Auth1)
	mac.Write(msg)
	return &wvpb.SignedMessage{
		Type:      wvpb.SignedMessage_LICENSE.Enum(),
		Msg:       msg,
		Signature: mac.Sum(nil),
	}
}

func TestLoadLicenseSkipsKeyControl(t *testing.T) {
	s := vectorSession()

	err := s.loadLicense(mustHex(t, vectorSessionKey), signVectorLicense(t, &wvpb.License{
		Key: []*wvpb.License_KeyContainer{
			{Type: wvpb.License_KeyContainer_KEY_CONTROL.Enum()},
		},
	}))
	require.NoError(t, err)
	assert.Empty(t, s.Keys)
	assert.NotNil(t, s.SignedLicense)
}

func TestLoadLicenseEmptyKey(t *testing.T) {
	for _, typ := range []wvpb.License_KeyContainer_KeyType{
		wvpb.License_KeyContainer_CONTENT,
		wvpb.License_KeyContainer_SIGNING,
		wvpb.License_KeyContainer_OPERATOR_SESSION,
	} {
		t.Run(typ.String(), func(t *testing.T) {
			s := vectorSession()

			err := s.loadLicense(mustHex(t, vectorSessionKey), signVectorLicense(t, &wvpb.License{
				Key: []*wvpb.License_KeyContainer{
					{Id: mustHex(t, vectorKID), Type: typ.Enum()},
				},
			}))
			require.ErrorIs(t, err, ErrMalformedResponse)
			assert.Empty(t, s.Keys)
			assert.Nil(t, s.SignedLicense)
		})
	}
}
