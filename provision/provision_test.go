package provision

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"github.com/devatadev/gowvcdm/wv"
	"github.com/devatadev/gowvcdm/wv/wvtest"
)

var testDeviceKey = []byte("0123456789abcdef")

func testKeybox() []byte {
	b := make([]byte, keyboxLength)
	copy(b, "wvtest-stable-id")
	copy(b[0x20:], testDeviceKey)
	binary.BigEndian.PutUint32(b[0x30:], flagConsumer)
	binary.BigEndian.PutUint32(b[0x34:], wvtest.SystemID)
	copy(b[0x38:0x78], "opaque device id")
	copy(b[0x78:], keyboxMagic)
	binary.BigEndian.PutUint32(b[0x7C:], crc32MPEG2(b[:0x7C]))
	return b
}

func TestCRC32MPEG2(t *testing.T) {
	assert.Equal(t, uint32(0x0376E6E7), crc32MPEG2([]byte("123456789")))
	assert.Equal(t, uint32(0xFFFFFFFF), crc32MPEG2(nil))
}

func TestParseKeybox(t *testing.T) {
	for _, b := range [][]byte{testKeybox(), append(testKeybox(), qseeTrailer...)} {
		kb, err := ParseKeybox(b)
		require.NoError(t, err)

		assert.Equal(t, testDeviceKey, kb.DeviceAESKey)
		assert.Len(t, kb.StableID, 32)
		assert.Len(t, kb.DeviceID, 72)
		assert.Equal(t, uint32(flagConsumer), kb.Flags)
		assert.Equal(t, uint32(wvtest.SystemID), kb.SystemID)
		assert.True(t, kb.Consumer())
		assert.Equal(t, "wvtest-stable-id (4464)", kb.String())
	}
}

func TestParseKeyboxErrors(t *testing.T) {
	badMagic := testKeybox()
	copy(badMagic[0x78:], "xbox")

	badCRC := testKeybox()
	badCRC[0] ^= 0xff

	tests := []struct {
		name string
		data []byte
	}{
		{name: "short", data: testKeybox()[:100]},
		{name: "bad trailer", data: append(testKeybox(), "LVL3"...)},
		{name: "bad magic", data: badMagic},
		{name: "bad crc", data: badCRC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKeybox(tt.data)
			assert.ErrorIs(t, err, wv.ErrInvalidInput)
		})
	}
}

func TestNewRequest(t *testing.T) {
	kb, err := ParseKeybox(testKeybox())
	require.NoError(t, err)

	req, err := NewRequest(kb, bytes.NewReader([]byte{1, 2, 3, 4}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, req.Nonce)

	keys, err := wv.DeriveKeys(testDeviceKey, req.Message)
	require.NoError(t, err)
	assert.Equal(t, keys, req.Keys)

	signed, err := parseFields(req.Signed)
	require.NoError(t, err)
	assert.Equal(t, req.Message, signed[signedMessage])
	mac := hmac.New(sha256.New, keys.Auth2)
	mac.Write(req.Message)
	assert.Equal(t, mac.Sum(nil), signed[signedSignature])

	fields, err := parseFields(req.Message)
	require.NoError(t, err)
	assert.Equal(t, req.Nonce, fields[requestNonce])
	assert.Equal(t, []byte{0x08, 0x00, 0x12, 0x00}, fields[requestOptions])

	clientID := &wvpb.ClientIdentification{}
	require.NoError(t, proto.Unmarshal(fields[requestClientID], clientID))
	assert.Equal(t, wvpb.ClientIdentification_KEYBOX, clientID.GetType())
	assert.Equal(t, kb.DeviceID, clientID.GetToken())

	assert.NotContains(t, req.Encoded(), "=")
	decoded, err := base64.RawURLEncoding.DecodeString(req.Encoded())
	require.NoError(t, err)
	assert.Equal(t, req.Signed, decoded)
}

func signResponse(t *testing.T, keys wv.DerivedKeys, nonce, privateKey, cert []byte) []byte {
	iv := bytes.Repeat([]byte{7}, 16)
	encrypted, err := wv.EncryptAES(keys.Enc, iv, privateKey)
	require.NoError(t, err)

	var msg []byte
	for _, f := range []struct {
		num protowire.Number
		v   []byte
	}{
		{responseDeviceRSAKey, encrypted},
		{responseDeviceRSAKeyIV, iv},
		{responseDeviceCertificate, cert},
		{responseNonce, nonce},
	} {
		msg = protowire.AppendTag(msg, f.num, protowire.BytesType)
		msg = protowire.AppendBytes(msg, f.v)
	}

	mac := hmac.New(sha256.New, keys.Auth1)
	mac.Write(msg)

	var signed []byte
	signed = protowire.AppendTag(signed, signedMessage, protowire.BytesType)
	signed = protowire.AppendBytes(signed, msg)
	signed = protowire.AppendTag(signed, signedSignature, protowire.BytesType)
	signed = protowire.AppendBytes(signed, mac.Sum(nil))
	return signed
}

func TestParseResponse(t *testing.T) {
	kb, err := ParseKeybox(testKeybox())
	require.NoError(t, err)
	req, err := NewRequest(kb, nil)
	require.NoError(t, err)

	privateKey := []byte("device private key")
	cert := []byte("device certificate")

	resp, err := req.ParseResponse(signResponse(t, req.Keys, req.Nonce, privateKey, cert))
	require.NoError(t, err)
	assert.Equal(t, privateKey, resp.PrivateKey)
	assert.Equal(t, cert, resp.DeviceCertificate)

	wrongKeys := req.Keys
	wrongKeys.Auth1 = bytes.Repeat([]byte{1}, 32)
	_, err = req.ParseResponse(signResponse(t, wrongKeys, req.Nonce, privateKey, cert))
	assert.ErrorIs(t, err, wv.ErrSignatureMismatch)

	_, err = req.ParseResponse(signResponse(t, req.Keys, []byte("nope"), privateKey, cert))
	assert.ErrorIs(t, err, ErrNonceMismatch)

	_, err = req.ParseResponse([]byte{0xff})
	assert.ErrorIs(t, err, wv.ErrMalformedResponse)
}

const testConfig = `
wvd:
  device_type: android
  security_level: 3
  send_key_control_nonce: true
client_info:
  company_name: motorola
  model_name: Nexus 6
  architecture_name: armeabi-v7a
capabilities:
  session_token: true
  max_hdcp_version: HDCP_V2_2
  oem_crypto_api_version: 11
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(testConfig))
	require.NoError(t, err)

	assert.Equal(t, WVDConfig{
		DeviceType:          wv.DeviceTypeAndroid,
		SecurityLevel:       3,
		SendKeyControlNonce: true,
	}, cfg.WVD)
	assert.Equal(t, ClientInfo{
		{Name: "company_name", Value: "motorola"},
		{Name: "model_name", Value: "Nexus 6"},
		{Name: "architecture_name", Value: "armeabi-v7a"},
	}, cfg.ClientInfo)

	_, err = ParseConfig(strings.NewReader("wvd:\n  device_type: chrome\n  security_level: 5\n"))
	assert.ErrorIs(t, err, wv.ErrInvalidInput)
}

func provisioningServer(t *testing.T, fixture *wvtest.Device) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if r.URL.Query().Get("key") != "test-key" {
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 400}})
			return
		}

		signed, err := base64.RawURLEncoding.DecodeString(r.URL.Query().Get("signedRequest"))
		require.NoError(t, err)
		fields, err := parseFields(signed)
		require.NoError(t, err)

		msg := fields[signedMessage]
		keys, err := wv.DeriveKeys(testDeviceKey, msg)
		require.NoError(t, err)
		mac := hmac.New(sha256.New, keys.Auth2)
		mac.Write(msg)
		assert.Equal(t, mac.Sum(nil), fields[signedSignature])

		reqFields, err := parseFields(msg)
		require.NoError(t, err)

		resp := signResponse(t, keys, reqFields[requestNonce],
			x509.MarshalPKCS1PrivateKey(fixture.PrivateKey), fixture.ClientID.GetToken())
		_ = json.NewEncoder(w).Encode(map[string]string{
			"kind":           responseKind,
			"signedResponse": base64.URLEncoding.EncodeToString(resp),
		})
	}))
}

func TestClientProvision(t *testing.T) {
	fixture := wvtest.NewDevice(t, wv.DeviceInfo{Type: wv.DeviceTypeAndroid, SecurityLevel: 3})
	srv := provisioningServer(t, fixture)
	defer srv.Close()

	kb, err := ParseKeybox(testKeybox())
	require.NoError(t, err)
	cfg, err := ParseConfig(strings.NewReader(testConfig))
	require.NoError(t, err)

	client := &Client{URL: srv.URL, APIKey: "test-key"}
	device, err := client.Provision(context.Background(), kb, cfg)
	require.NoError(t, err)

	assert.Equal(t, uint32(wvtest.SystemID), device.SystemID())
	assert.Equal(t, wv.FlagSendKeyControlNonce, device.Info().Flags)

	clientID := device.ClientID()
	assert.Equal(t, wvpb.ClientIdentification_DRM_DEVICE_CERTIFICATE, clientID.GetType())
	info := clientID.GetClientInfo()
	require.Len(t, info, 4)
	assert.Equal(t, "company_name", info[0].GetName())
	assert.Equal(t, "device_id", info[3].GetName())
	assert.Equal(t, string(kb.StableID), info[3].GetValue())
	assert.True(t, clientID.GetClientCapabilities().GetSessionToken())
	assert.Equal(t, uint32(11), clientID.GetClientCapabilities().GetOemCryptoApiVersion())
	assert.Equal(t, wvpb.ClientIdentification_ClientCapabilities_HDCP_V2_2,
		clientID.GetClientCapabilities().GetMaxHdcpVersion())

	// the provisioned device answers license servers
	cdm := wv.NewCDM(device)
	pssh, err := wv.BuildPSSH([]byte("0123456789abcdef"))
	require.NoError(t, err)
	id, err := cdm.Open(pssh, false, false)
	require.NoError(t, err)
	challenge, err := cdm.GetLicenseChallenge(id)
	require.NoError(t, err)
	license := wvtest.IssueLicense(t, &fixture.PrivateKey.PublicKey, challenge, wvtest.LicenseKey{
		ID:   []byte("0123456789abcdef"),
		Type: wvpb.License_KeyContainer_CONTENT,
		Key:  bytes.Repeat([]byte{9}, 16),
	})
	require.NoError(t, cdm.ParseLicense(id, license))

	wvd, err := device.MarshalWVD()
	require.NoError(t, err)
	reloaded, err := wv.NewLocalDevice(wv.FromWVD(bytes.NewReader(wvd)))
	require.NoError(t, err)
	assert.True(t, proto.Equal(clientID, reloaded.ClientID()))
}

func TestClientErrors(t *testing.T) {
	fixture := wvtest.NewDevice(t, wv.DeviceInfo{Type: wv.DeviceTypeAndroid, SecurityLevel: 3})
	srv := provisioningServer(t, fixture)
	defer srv.Close()

	kb, err := ParseKeybox(testKeybox())
	require.NoError(t, err)
	req, err := NewRequest(kb, nil)
	require.NoError(t, err)

	client := &Client{URL: srv.URL, APIKey: "wrong"}
	_, err = client.Send(context.Background(), req)
	assert.ErrorIs(t, err, wv.ErrRemoteTransport)

	kind := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"kind":"something#else"}`))
	}))
	defer kind.Close()

	client = &Client{URL: kind.URL, APIKey: "test-key"}
	_, err = client.Send(context.Background(), req)
	assert.ErrorIs(t, err, wv.ErrMalformedResponse)
}
