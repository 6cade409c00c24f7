package provision

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"github.com/devatadev/gowvcdm/wv"
)

const (
	nonceLength = 4
	// provisioning protocol version 2, signed with HMAC-SHA256
	protocolVersion = 2
)

// ErrNonceMismatch is returned when a response answers another request.
var ErrNonceMismatch = errors.New("provisioning response nonce mismatch")

// ProvisioningRequest fields
const (
	requestClientID protowire.Number = 1
	requestNonce    protowire.Number = 2
	requestOptions  protowire.Number = 3
)

// ProvisioningOptions fields
const (
	optionsCertificateType      protowire.Number = 1
	optionsCertificateAuthority protowire.Number = 2

	certificateTypeWidevineDRM = 0
)

// SignedProvisioningMessage fields
const (
	signedMessage         protowire.Number = 1
	signedSignature       protowire.Number = 2
	signedProtocolVersion protowire.Number = 3
)

// ProvisioningResponse fields
const (
	responseDeviceRSAKey      protowire.Number = 1
	responseDeviceRSAKeyIV    protowire.Number = 2
	responseDeviceCertificate protowire.Number = 3
	responseNonce             protowire.Number = 4
)

// Request is a signed provisioning request and the keys needed to read its
// response.
type Request struct {
	// Message is the serialized ProvisioningRequest.
	Message []byte
	Nonce   []byte
	Keys    wv.DerivedKeys
	// Signed is the serialized SignedProvisioningMessage sent to the service.
	Signed []byte
}

// NewRequest builds a provisioning request for kb. Keys are derived from the
// request with the keybox device key; the request is signed with Auth2.
// rand defaults to crypto/rand.Reader when nil.
func NewRequest(kb *Keybox, r io.Reader) (*Request, error) {
	if r == nil {
		r = rand.Reader
	}

	clientID, err := proto.Marshal(&wvpb.ClientIdentification{
		Type:  wvpb.ClientIdentification_KEYBOX.Enum(),
		Token: kb.DeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal client id: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err = io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	var options []byte
	options = protowire.AppendTag(options, optionsCertificateType, protowire.VarintType)
	options = protowire.AppendVarint(options, certificateTypeWidevineDRM)
	options = protowire.AppendTag(options, optionsCertificateAuthority, protowire.BytesType)
	options = protowire.AppendString(options, "")

	var msg []byte
	msg = protowire.AppendTag(msg, requestClientID, protowire.BytesType)
	msg = protowire.AppendBytes(msg, clientID)
	msg = protowire.AppendTag(msg, requestNonce, protowire.BytesType)
	msg = protowire.AppendBytes(msg, nonce)
	msg = protowire.AppendTag(msg, requestOptions, protowire.BytesType)
	msg = protowire.AppendBytes(msg, options)

	keys, err := wv.DeriveKeys(kb.DeviceAESKey, msg)
	if err != nil {
		return nil, fmt.Errorf("derive keys: %w", err)
	}

	signature := hmac.New(sha256.New, keys.Auth2)
	signature.Write(msg)

	var signed []byte
	signed = protowire.AppendTag(signed, signedMessage, protowire.BytesType)
	signed = protowire.AppendBytes(signed, msg)
	signed = protowire.AppendTag(signed, signedSignature, protowire.BytesType)
	signed = protowire.AppendBytes(signed, signature.Sum(nil))
	signed = protowire.AppendTag(signed, signedProtocolVersion, protowire.VarintType)
	signed = protowire.AppendVarint(signed, protocolVersion)

	return &Request{
		Message: msg,
		Nonce:   nonce,
		Keys:    keys,
		Signed:  signed,
	}, nil
}

// Encoded returns the signed request in unpadded URL-safe base64, the form the
// provisioning service takes.
func (r *Request) Encoded() string {
	return base64.RawURLEncoding.EncodeToString(r.Signed)
}

// Response is a verified provisioning response.
type Response struct {
	// PrivateKey is the DER encoded device RSA key.
	PrivateKey []byte
	// DeviceCertificate is the serialized SignedDrmCertificate of the device.
	DeviceCertificate []byte
}

// ParseResponse verifies a serialized SignedProvisioningMessage against the
// request and decrypts the device key.
func (r *Request) ParseResponse(signed []byte) (*Response, error) {
	fields, err := parseFields(signed)
	if err != nil {
		return nil, fmt.Errorf("%w: signed provisioning message: %w", wv.ErrMalformedResponse, err)
	}
	msg := fields[signedMessage]

	mac := hmac.New(sha256.New, r.Keys.Auth1)
	mac.Write(msg)
	if !hmac.Equal(fields[signedSignature], mac.Sum(nil)) {
		return nil, fmt.Errorf("%w: provisioning response signature is incorrect", wv.ErrSignatureMismatch)
	}

	if fields, err = parseFields(msg); err != nil {
		return nil, fmt.Errorf("%w: provisioning response: %w", wv.ErrMalformedResponse, err)
	}
	if !bytes.Equal(fields[responseNonce], r.Nonce) {
		return nil, fmt.Errorf("%w: got %x, expected %x", ErrNonceMismatch, fields[responseNonce], r.Nonce)
	}

	key, err := wv.DecryptAES(r.Keys.Enc, fields[responseDeviceRSAKeyIV], fields[responseDeviceRSAKey])
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt device key: %w", wv.ErrMalformedResponse, err)
	}
	if len(fields[responseDeviceCertificate]) == 0 {
		return nil, fmt.Errorf("%w: no device certificate", wv.ErrMalformedResponse)
	}

	return &Response{
		PrivateKey:        key,
		DeviceCertificate: fields[responseDeviceCertificate],
	}, nil
}

// parseFields returns the length-delimited fields of a message, skipping
// everything else. Repeated fields keep their last value.
func parseFields(b []byte) (map[protowire.Number][]byte, error) {
	fields := make(map[protowire.Number][]byte)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		if typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			fields[num] = v
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return fields, nil
}
