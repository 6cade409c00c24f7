package wv

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"time"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

const (
	sessionKeyLength = 16
	privacyKeyLength = 16

	maxKeyControlNonce = 1 << 31
)

// LocalDevice performs all cryptography in-process with the credentials of
// a WVD file.
type LocalDevice struct {
	info       DeviceInfo
	clientID   *wvpb.ClientIdentification
	cert       *wvpb.DrmCertificate
	privateKey *rsa.PrivateKey
	vmp        []byte

	rand io.Reader
	now  func() time.Time
}

type DeviceSource func() (*wvdData, error)

// FromWVD reads a device from a WVD file.
func FromWVD(r io.Reader) DeviceSource {
	return func() (*wvdData, error) {
		return parseWVD(r)
	}
}

// FromRaw builds a device from a serialized ClientIdentification and a PEM or
// DER private key. vmp may be nil.
func FromRaw(info DeviceInfo, clientID, privateKey, vmp []byte) DeviceSource {
	return func() (*wvdData, error) {
		return &wvdData{
			info:       info,
			privateKey: privateKey,
			clientID:   clientID,
			vmp:        vmp,
		}, nil
	}
}

// NewLocalDevice loads a device. Only WithRandom and WithNow apply.
func NewLocalDevice(src DeviceSource, opts ...Option) (*LocalDevice, error) {
	data, err := src()
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	d := &LocalDevice{
		info: data.info,
		vmp:  data.vmp,
		rand: o.rand,
		now:  o.now,
	}

	if d.info.SecurityLevel < 1 || d.info.SecurityLevel > 3 {
		return nil, fmt.Errorf("%w: security level %d out of range", ErrInvalidInput, d.info.SecurityLevel)
	}
	if d.info.Type != DeviceTypeChrome && d.info.Type != DeviceTypeAndroid {
		return nil, fmt.Errorf("%w: unsupported device type %s", ErrInvalidInput, d.info.Type)
	}

	if len(data.clientID) > 0 {
		c := &wvpb.ClientIdentification{}
		if err = proto.Unmarshal(data.clientID, c); err != nil {
			return nil, fmt.Errorf("unmarshal client id: %w", err)
		}
		if len(d.vmp) > 0 {
			c.VmpData = d.vmp
		}
		d.clientID = c
		d.cert = clientCertificate(c)
	}

	if len(data.privateKey) > 0 {
		if d.privateKey, err = parsePrivateKey(data.privateKey); err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
	}

	return d, nil
}

// clientCertificate extracts the device certificate from a client id token.
// Keybox tokens carry none.
func clientCertificate(c *wvpb.ClientIdentification) *wvpb.DrmCertificate {
	signedCert := &wvpb.SignedDrmCertificate{}
	if err := proto.Unmarshal(c.GetToken(), signedCert); err != nil {
		return nil
	}

	cert := &wvpb.DrmCertificate{}
	if err := proto.Unmarshal(signedCert.GetDrmCertificate(), cert); err != nil {
		return nil
	}
	return cert
}

// parsePrivateKey modified from https://go.dev/src/crypto/tls/tls.go#L339
func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	b := data
	if bytes.HasPrefix(data, []byte("-----")) {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM block containing private key")
		}
		b = block.Bytes
	}

	if key, err := x509.ParsePKCS1PrivateKey(b); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(b); err == nil {
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("unsupported private key type: %T", k)
		}
	}

	return nil, fmt.Errorf("unsupported private key type")
}

func (d *LocalDevice) Type() DeviceType {
	return d.info.Type
}

func (d *LocalDevice) Info() DeviceInfo {
	return d.info
}

func (d *LocalDevice) SystemID() uint32 {
	return d.cert.GetSystemId()
}

func (d *LocalDevice) ClientID() *wvpb.ClientIdentification {
	return d.clientID
}

func (d *LocalDevice) DrmCertificate() *wvpb.DrmCertificate {
	return d.cert
}

func (d *LocalDevice) PrivateKey() *rsa.PrivateKey {
	return d.privateKey
}

// MarshalWVD serializes the device as a WVD file.
func (d *LocalDevice) MarshalWVD() ([]byte, error) {
	data := &wvdData{info: d.info, vmp: d.vmp}

	if d.privateKey != nil {
		data.privateKey = x509.MarshalPKCS1PrivateKey(d.privateKey)
	}
	if d.clientID != nil {
		// the vmp is stored on its own
		c := proto.Clone(d.clientID).(*wvpb.ClientIdentification)
		if len(d.vmp) > 0 {
			c.VmpData = nil
		}
		b, err := proto.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal client id: %w", err)
		}
		data.clientID = b
	}

	return data.marshal()
}

func (d *LocalDevice) SetServiceCertificate(s *Session, certificate []byte) error {
	cert, signedCert, err := ParseServiceCert(certificate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}

	s.ServiceCertificate = cert
	s.SignedServiceCertificate = signedCert
	s.PrivacyMode = true

	return nil
}

func (d *LocalDevice) GetLicenseChallenge(s *Session) ([]byte, error) {
	if d.clientID == nil {
		return nil, fmt.Errorf("%w: no client identification blob is available for this device", ErrMissingCredential)
	}
	if d.privateKey == nil {
		return nil, fmt.Errorf("%w: no private key is available for this device", ErrMissingCredential)
	}

	req := &wvpb.LicenseRequest{
		Type:            wvpb.LicenseRequest_NEW.Enum(),
		RequestTime:     Pointer(d.now().Unix()),
		ProtocolVersion: wvpb.ProtocolVersion_VERSION_2_1.Enum(),
		ContentId: &wvpb.LicenseRequest_ContentIdentification{
			ContentIdVariant: &wvpb.LicenseRequest_ContentIdentification_WidevinePsshData_{
				WidevinePsshData: &wvpb.LicenseRequest_ContentIdentification_WidevinePsshData{
					PsshData:    [][]byte{s.CencHeader},
					LicenseType: s.licenseType().Enum(),
					RequestId:   s.Id,
				},
			},
		},
	}

	if d.info.Flags&FlagSendKeyControlNonce != 0 {
		nonce, err := d.keyControlNonce()
		if err != nil {
			return nil, fmt.Errorf("key control nonce: %w", err)
		}
		req.KeyControlNonce = Pointer(nonce)
	}

	if s.PrivacyMode {
		if s.ServiceCertificate == nil {
			return nil, fmt.Errorf("%w: privacy mode without a service certificate", ErrProtocolState)
		}
		encClientID, err := d.encryptClientID(s.ServiceCertificate)
		if err != nil {
			return nil, fmt.Errorf("encrypt client id: %w", err)
		}
		req.EncryptedClientId = encClientID
	} else {
		req.ClientId = d.clientID
	}

	reqData, err := proto.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal license request: %w", err)
	}

	hashed := sha1.Sum(reqData)
	pss, err := rsa.SignPSS(
		d.rand,
		d.privateKey,
		crypto.SHA1,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return nil, fmt.Errorf("sign pss: %w", err)
	}

	msg := &wvpb.SignedMessage{
		Type:      wvpb.SignedMessage_LICENSE_REQUEST.Enum(),
		Msg:       reqData,
		Signature: pss,
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal signed message: %w", err)
	}

	s.LicenseRequest = msg

	return data, nil
}

// keyControlNonce returns a random nonce in [1, 2^31).
func (d *LocalDevice) keyControlNonce() (uint32, error) {
	for {
		b, err := randomBytes(d.rand, 4)
		if err != nil {
			return 0, err
		}
		if n := binary.BigEndian.Uint32(b) % maxKeyControlNonce; n != 0 {
			return n, nil
		}
	}
}

func (d *LocalDevice) encryptClientID(cert *wvpb.DrmCertificate) (*wvpb.EncryptedClientIdentification, error) {
	privacyKey, err := randomBytes(d.rand, privacyKeyLength)
	if err != nil {
		return nil, err
	}
	privacyIV, err := randomBytes(d.rand, privacyKeyLength)
	if err != nil {
		return nil, err
	}

	clientID, err := proto.Marshal(d.clientID)
	if err != nil {
		return nil, fmt.Errorf("marshal client id: %w", err)
	}
	encryptedClientID, err := EncryptAES(privacyKey, privacyIV, clientID)
	if err != nil {
		return nil, fmt.Errorf("encrypt aes: %w", err)
	}

	publicKey, err := ParsePublicKey(cert.GetPublicKey())
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	encryptedPrivacyKey, err := rsa.EncryptOAEP(sha1.New(), d.rand, publicKey, privacyKey, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypt oaep: %w", err)
	}

	return &wvpb.EncryptedClientIdentification{
		ProviderId:                     cert.ProviderId,
		ServiceCertificateSerialNumber: cert.GetSerialNumber(),
		EncryptedClientId:              encryptedClientID,
		EncryptedClientIdIv:            privacyIV,
		EncryptedPrivacyKey:            encryptedPrivacyKey,
	}, nil
}

func (d *LocalDevice) ParseLicense(s *Session, license []byte) error {
	if s.LicenseRequest == nil {
		return fmt.Errorf("%w: no license request for the session was created", ErrProtocolState)
	}
	if d.privateKey == nil {
		return fmt.Errorf("%w: no private key is available for this device", ErrMissingCredential)
	}

	signedMsg := &wvpb.SignedMessage{}
	if err := proto.Unmarshal(license, signedMsg); err != nil {
		return fmt.Errorf("%w: unmarshal signed message: %w", ErrMalformedResponse, err)
	}
	if signedMsg.GetType() != wvpb.SignedMessage_LICENSE {
		return fmt.Errorf("%w: invalid license type: %v", ErrMalformedResponse, signedMsg.GetType())
	}

	sessionKey, err := rsa.DecryptOAEP(sha1.New(), nil, d.privateKey, signedMsg.GetSessionKey(), nil)
	if err != nil {
		return fmt.Errorf("%w: decrypt session key: %w", ErrMalformedResponse, err)
	}

	return s.loadLicense(sessionKey, signedMsg)
}

// Exchange parses license and returns the keys identified by encKeyID and
// hmacKeyID.
func (d *LocalDevice) Exchange(s *Session, license, encKeyID, hmacKeyID []byte) (encKey, signKey []byte, err error) {
	if err = d.ParseLicense(s, license); err != nil {
		return nil, nil, err
	}

	for _, key := range s.Keys {
		switch {
		case bytes.Equal(key.ID, encKeyID):
			encKey = key.Key
		case bytes.Equal(key.ID, hmacKeyID):
			signKey = key.Key
		}
	}
	if encKey == nil {
		return nil, nil, fmt.Errorf("%w: encryption key %x", ErrKeyNotFound, encKeyID)
	}
	if signKey == nil {
		return nil, nil, fmt.Errorf("%w: sign key %x", ErrKeyNotFound, hmacKeyID)
	}
	return encKey, signKey, nil
}
