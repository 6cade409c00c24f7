// Package wvtest provides generated devices and a synthetic license server
// for tests.
package wvtest

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"sync"
	"testing"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/devatadev/gowvcdm/wv"
)

// SystemID is the system id of generated devices.
const SystemID = 4464

var (
	keyOnce    sync.Once
	deviceKey  *rsa.PrivateKey
	serviceKey *rsa.PrivateKey
)

func keys(t testing.TB) (*rsa.PrivateKey, *rsa.PrivateKey) {
	keyOnce.Do(func() {
		var err error
		if deviceKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if serviceKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	require.NotNil(t, deviceKey)
	return deviceKey, serviceKey
}

// Device is a generated local device.
type Device struct {
	Info       wv.DeviceInfo
	PrivateKey *rsa.PrivateKey
	ClientID   *wvpb.ClientIdentification
	WVD        []byte
}

// NewDevice generates a device of the given type. All devices share one RSA
// key per test binary.
func NewDevice(t testing.TB, info wv.DeviceInfo) *Device {
	key, _ := keys(t)

	cert, err := proto.Marshal(&wvpb.DrmCertificate{
		SerialNumber: []byte("wvtest-device"),
		PublicKey:    x509.MarshalPKCS1PublicKey(&key.PublicKey),
		SystemId:     wv.Pointer(uint32(SystemID)),
	})
	require.NoError(t, err)
	token, err := proto.Marshal(&wvpb.SignedDrmCertificate{DrmCertificate: cert})
	require.NoError(t, err)

	clientID := &wvpb.ClientIdentification{
		Type:  wvpb.ClientIdentification_DRM_DEVICE_CERTIFICATE.Enum(),
		Token: token,
		ClientInfo: []*wvpb.ClientIdentification_NameValue{
			{Name: wv.Pointer("company_name"), Value: wv.Pointer("wvtest")},
			{Name: wv.Pointer("model_name"), Value: wv.Pointer("generated")},
		},
	}
	rawClientID, err := proto.Marshal(clientID)
	require.NoError(t, err)

	d, err := wv.NewLocalDevice(wv.FromRaw(info, rawClientID, x509.MarshalPKCS1PrivateKey(key), nil))
	require.NoError(t, err)
	wvd, err := d.MarshalWVD()
	require.NoError(t, err)

	return &Device{
		Info:       info,
		PrivateKey: key,
		ClientID:   clientID,
		WVD:        wvd,
	}
}

// ServiceCertificate returns a SignedMessage wrapping a service certificate
// for provider, and the private key matching it.
func ServiceCertificate(t testing.TB, provider string) ([]byte, *rsa.PrivateKey) {
	_, key := keys(t)

	cert, err := proto.Marshal(&wvpb.DrmCertificate{
		SerialNumber: []byte("wvtest-service"),
		PublicKey:    x509.MarshalPKCS1PublicKey(&key.PublicKey),
		ProviderId:   wv.Pointer(provider),
	})
	require.NoError(t, err)
	signedCert, err := proto.Marshal(&wvpb.SignedDrmCertificate{DrmCertificate: cert})
	require.NoError(t, err)
	msg, err := proto.Marshal(&wvpb.SignedMessage{
		Type: wvpb.SignedMessage_SERVICE_CERTIFICATE.Enum(),
		Msg:  signedCert,
	})
	require.NoError(t, err)

	return msg, key
}

// LicenseKey is a key issued by IssueLicense.
type LicenseKey struct {
	ID          []byte
	Type        wvpb.License_KeyContainer_KeyType
	Key         []byte
	Permissions *wvpb.License_KeyContainer_OperatorSessionKeyPermissions
}

// ParseChallenge verifies the PSS signature of a challenge against pub and
// returns the signed message and its license request.
func ParseChallenge(t testing.TB, pub *rsa.PublicKey, challenge []byte) (*wvpb.SignedMessage, *wvpb.LicenseRequest) {
	msg := &wvpb.SignedMessage{}
	require.NoError(t, proto.Unmarshal(challenge, msg))
	require.Equal(t, wvpb.SignedMessage_LICENSE_REQUEST, msg.GetType())

	hashed := sha1.Sum(msg.GetMsg())
	require.NoError(t, rsa.VerifyPSS(pub, crypto.SHA1, hashed[:], msg.GetSignature(),
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}))

	req := &wvpb.LicenseRequest{}
	require.NoError(t, proto.Unmarshal(msg.GetMsg(), req))
	return msg, req
}

// IssueLicense answers a challenge the way a license server does: it wraps a
// fresh session key for pub, derives the license keys from the request and
// signs the license.
func IssueLicense(t testing.TB, pub *rsa.PublicKey, challenge []byte, licenseKeys ...LicenseKey) []byte {
	signed, _ := ParseChallenge(t, pub, challenge)

	sessionKey := make([]byte, 16)
	_, err := rand.Read(sessionKey)
	require.NoError(t, err)
	wrapped, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, sessionKey, nil)
	require.NoError(t, err)

	derived, err := wv.DeriveKeys(sessionKey, signed.GetMsg())
	require.NoError(t, err)

	license := &wvpb.License{}
	for _, k := range licenseKeys {
		iv := make([]byte, 16)
		_, err = rand.Read(iv)
		require.NoError(t, err)
		encrypted, err := wv.EncryptAES(derived.Enc, iv, k.Key)
		require.NoError(t, err)

		license.Key = append(license.Key, &wvpb.License_KeyContainer{
			Id:                            k.ID,
			Iv:                            iv,
			Key:                           encrypted,
			Type:                          k.Type.Enum(),
			OperatorSessionKeyPermissions: k.Permissions,
		})
	}
	msg, err := proto.Marshal(license)
	require.NoError(t, err)

	mac := hmac.New(sha256.New, derived.Auth1)
	mac.Write(msg)

	out, err := proto.Marshal(&wvpb.SignedMessage{
		Type:       wvpb.SignedMessage_LICENSE.Enum(),
		Msg:        msg,
		Signature:  mac.Sum(nil),
		SessionKey: wrapped,
	})
	require.NoError(t, err)
	return out
}

// CorruptSignature flips one byte of a license signature.
func CorruptSignature(t testing.TB, license []byte) []byte {
	msg := &wvpb.SignedMessage{}
	require.NoError(t, proto.Unmarshal(license, msg))
	require.NotEmpty(t, msg.GetSignature())
	msg.Signature[0] ^= 0xff

	out, err := proto.Marshal(msg)
	require.NoError(t, err)
	return out
}
