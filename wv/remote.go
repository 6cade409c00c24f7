package wv

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"
)

const defaultRemoteTimeout = 30 * time.Second

// RPC methods of the remote CDM API.
const (
	MethodGetChallenge = "GetChallenge"
	MethodGetKeys      = "GetKeys"
	MethodGetKeysX     = "GetKeysX"
)

// RemoteConfig is the profile of a remote CDM API device.
type RemoteConfig struct {
	Type          DeviceType    `yaml:"type" validate:"required"`
	SystemID      uint32        `yaml:"system_id"`
	SecurityLevel uint8         `yaml:"security_level" validate:"min=1,max=3"`
	Name          string        `yaml:"name" validate:"required"`
	Host          string        `yaml:"host" validate:"required,url"`
	Key           string        `yaml:"key" validate:"required"`
	Device        string        `yaml:"device" validate:"required"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LoadRemoteConfig decodes a YAML remote device profile.
func LoadRemoteConfig(r io.Reader) (RemoteConfig, error) {
	var cfg RemoteConfig
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return RemoteConfig{}, fmt.Errorf("decode remote config: %w", err)
	}
	return cfg, nil
}

// RPCRequest is the envelope posted to the remote CDM API.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Token  string          `json:"token"`
}

// RPCResponse is the envelope answered by the remote CDM API. Message holds
// the result on status 200 and an error description otherwise.
type RPCResponse struct {
	StatusCode int             `json:"status_code"`
	Message    json.RawMessage `json:"message"`
}

type GetChallengeParams struct {
	Init        string  `json:"init"`
	Cert        *string `json:"cert"`
	Raw         bool    `json:"raw"`
	LicenseType string  `json:"licensetype"`
	Device      string  `json:"device"`
}

type GetChallengeResult struct {
	Challenge string `json:"challenge"`
	SessionID string `json:"session_id"`
}

type GetKeysParams struct {
	CdmKeyResponse string `json:"cdmkeyresponse"`
	SessionID      string `json:"session_id"`
}

type RemoteKey struct {
	Kid string `json:"kid"`
	Key string `json:"key"`
}

type GetKeysResult struct {
	Keys []RemoteKey `json:"keys"`
}

type GetKeysXParams struct {
	CdmKeyResponse  string `json:"cdmkeyresponse"`
	EncryptionKeyID string `json:"encryptionkeyid"`
	HmacKeyID       string `json:"hmackeyid"`
	SessionID       string `json:"session_id"`
}

type GetKeysXResult struct {
	EncryptionKey string `json:"encryption_key"`
	SignKey       string `json:"sign_key"`
}

// RemoteDevice delegates license cryptography to a remote CDM API. It never
// holds device credentials; the API returns verified keys.
type RemoteDevice struct {
	cfg    RemoteConfig
	client *http.Client
}

func NewRemoteDevice(cfg RemoteConfig) (*RemoteDevice, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: remote config: %w", ErrInvalidInput, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}

	return &RemoteDevice{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (d *RemoteDevice) Type() DeviceType {
	return d.cfg.Type
}

func (d *RemoteDevice) SystemID() uint32 {
	return d.cfg.SystemID
}

func (d *RemoteDevice) Name() string {
	return d.cfg.Name
}

// SetServiceCertificate stores the certificate as is; the API parses it.
func (d *RemoteDevice) SetServiceCertificate(s *Session, cert []byte) error {
	if len(cert) == 0 {
		return fmt.Errorf("%w: empty certificate", ErrMalformedCertificate)
	}
	s.remoteCertificate = base64.StdEncoding.EncodeToString(cert)
	s.PrivacyMode = true
	return nil
}

func (d *RemoteDevice) GetLicenseChallenge(s *Session) ([]byte, error) {
	params := GetChallengeParams{
		Init:        base64.StdEncoding.EncodeToString(s.PSSH),
		Raw:         s.Raw,
		LicenseType: s.licenseType().String(),
		Device:      d.cfg.Device,
	}
	if s.remoteCertificate != "" {
		params.Cert = &s.remoteCertificate
	}

	var res GetChallengeResult
	if err := d.call(MethodGetChallenge, params, &res); err != nil {
		return nil, err
	}

	challenge, err := base64.StdEncoding.DecodeString(res.Challenge)
	if err != nil {
		return nil, fmt.Errorf("%w: decode challenge: %w", ErrMalformedResponse, err)
	}
	msg := &wvpb.SignedMessage{}
	if err = proto.Unmarshal(challenge, msg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal challenge: %w", ErrMalformedResponse, err)
	}

	s.LicenseRequest = msg
	s.remoteSessionId = res.SessionID

	return challenge, nil
}

func (d *RemoteDevice) ParseLicense(s *Session, license []byte) error {
	if s.LicenseRequest == nil || s.remoteSessionId == "" {
		return fmt.Errorf("%w: no license request for the session was created", ErrProtocolState)
	}

	var res GetKeysResult
	err := d.call(MethodGetKeys, GetKeysParams{
		CdmKeyResponse: base64.StdEncoding.EncodeToString(license),
		SessionID:      s.remoteSessionId,
	}, &res)
	if err != nil {
		return err
	}

	keys := make([]*Key, 0, len(res.Keys))
	for _, k := range res.Keys {
		kid, err := hex.DecodeString(k.Kid)
		if err != nil {
			return fmt.Errorf("%w: decode kid: %w", ErrMalformedResponse, err)
		}
		key, err := hex.DecodeString(k.Key)
		if err != nil {
			return fmt.Errorf("%w: decode key: %w", ErrMalformedResponse, err)
		}
		keys = append(keys, &Key{
			ID:   kid,
			Type: wvpb.License_KeyContainer_CONTENT,
			Key:  key,
		})
	}
	s.Keys = append(s.Keys, keys...)

	return nil
}

// Exchange parses license remotely and returns the raw keys identified by
// encKeyID and hmacKeyID, as used by message security layers that negotiate
// their own keys through a Widevine license.
//
// The API derives these keys out of process; nothing here verifies them.
func (d *RemoteDevice) Exchange(s *Session, license, encKeyID, hmacKeyID []byte) (encKey, signKey []byte, err error) {
	if s.LicenseRequest == nil || s.remoteSessionId == "" {
		return nil, nil, fmt.Errorf("%w: no license request for the session was created", ErrProtocolState)
	}

	var res GetKeysXResult
	err = d.call(MethodGetKeysX, GetKeysXParams{
		CdmKeyResponse:  base64.StdEncoding.EncodeToString(license),
		EncryptionKeyID: base64.StdEncoding.EncodeToString(encKeyID),
		HmacKeyID:       base64.StdEncoding.EncodeToString(hmacKeyID),
		SessionID:       s.remoteSessionId,
	}, &res)
	if err != nil {
		return nil, nil, err
	}

	if encKey, err = base64.StdEncoding.DecodeString(res.EncryptionKey); err != nil {
		return nil, nil, fmt.Errorf("%w: decode encryption key: %w", ErrMalformedResponse, err)
	}
	if signKey, err = base64.StdEncoding.DecodeString(res.SignKey); err != nil {
		return nil, nil, fmt.Errorf("%w: decode sign key: %w", ErrMalformedResponse, err)
	}
	return encKey, signKey, nil
}

func (d *RemoteDevice) call(method string, params, result any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	body, err := json.Marshal(RPCRequest{
		Method: method,
		Params: rawParams,
		Token:  d.cfg.Key,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	resp, err := d.client.Post(d.cfg.Host, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: no connection could be made to the CDM API %q: %w", ErrRemoteTransport, d.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: CDM API %q answered HTTP %d", ErrRemoteTransport, d.cfg.Name, resp.StatusCode)
	}

	var res RPCResponse
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrRemoteTransport, method, err)
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: CDM API returned a bad status code %d: %s", ErrRemoteTransport, res.StatusCode, res.Message)
	}

	if err = json.Unmarshal(res.Message, result); err != nil {
		return fmt.Errorf("%w: decode %s result: %w", ErrMalformedResponse, method, err)
	}
	return nil
}
