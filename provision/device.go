package provision

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"

	"github.com/devatadev/gowvcdm/wv"
)

// Config describes the device a keybox is provisioned as. Client info is
// usually copied from the build properties of the device.
type Config struct {
	WVD          WVDConfig    `yaml:"wvd"`
	ClientInfo   ClientInfo   `yaml:"client_info"`
	Capabilities Capabilities `yaml:"capabilities"`
}

type WVDConfig struct {
	DeviceType          wv.DeviceType `yaml:"device_type" validate:"required"`
	SecurityLevel       uint8         `yaml:"security_level" validate:"min=1,max=3"`
	SendKeyControlNonce bool          `yaml:"send_key_control_nonce"`
}

type NameValue struct {
	Name  string
	Value string
}

// ClientInfo is an ordered list of client info pairs, written as a YAML
// mapping.
type ClientInfo []NameValue

func (c *ClientInfo) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("client_info must be a mapping, line %d", n.Line)
	}
	info := make(ClientInfo, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		info = append(info, NameValue{Name: n.Content[i].Value, Value: n.Content[i+1].Value})
	}
	*c = info
	return nil
}

type Capabilities struct {
	SessionToken        bool    `yaml:"session_token"`
	MaxHdcpVersion      string  `yaml:"max_hdcp_version"`
	OemCryptoApiVersion *uint32 `yaml:"oem_crypto_api_version"`
}

// LoadConfig reads and validates a YAML provisioning config.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseConfig(f)
}

func ParseConfig(r io.Reader) (*Config, error) {
	cfg := &Config{}
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode provisioning config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: provisioning config: %w", wv.ErrInvalidInput, err)
	}
	return cfg, nil
}

func (c *Capabilities) proto() (*wvpb.ClientIdentification_ClientCapabilities, error) {
	caps := &wvpb.ClientIdentification_ClientCapabilities{
		OemCryptoApiVersion: c.OemCryptoApiVersion,
	}
	if c.SessionToken {
		caps.SessionToken = wv.Pointer(true)
	}
	if c.MaxHdcpVersion != "" {
		v, ok := wvpb.ClientIdentification_ClientCapabilities_HdcpVersion_value[strings.ToUpper(c.MaxHdcpVersion)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown hdcp version %q", wv.ErrInvalidInput, c.MaxHdcpVersion)
		}
		caps.MaxHdcpVersion = wvpb.ClientIdentification_ClientCapabilities_HdcpVersion(v).Enum()
	}
	return caps, nil
}

// ClientID builds the device certificate client identification sent in
// license requests.
func (c *Config) ClientID(kb *Keybox, resp *Response) (*wvpb.ClientIdentification, error) {
	caps, err := c.Capabilities.proto()
	if err != nil {
		return nil, err
	}

	clientID := &wvpb.ClientIdentification{
		Type:               wvpb.ClientIdentification_DRM_DEVICE_CERTIFICATE.Enum(),
		Token:              resp.DeviceCertificate,
		ClientCapabilities: caps,
	}
	info := append(c.ClientInfo[:len(c.ClientInfo):len(c.ClientInfo)],
		NameValue{Name: "device_id", Value: string(kb.StableID)})
	for _, nv := range info {
		clientID.ClientInfo = append(clientID.ClientInfo, &wvpb.ClientIdentification_NameValue{
			Name:  wv.Pointer(nv.Name),
			Value: wv.Pointer(nv.Value),
		})
	}
	return clientID, nil
}

// Device assembles the provisioned device.
func (c *Config) Device(kb *Keybox, resp *Response) (*wv.LocalDevice, error) {
	clientID, err := c.ClientID(kb, resp)
	if err != nil {
		return nil, err
	}
	rawClientID, err := proto.Marshal(clientID)
	if err != nil {
		return nil, fmt.Errorf("marshal client id: %w", err)
	}

	info := wv.DeviceInfo{
		Type:          c.WVD.DeviceType,
		SecurityLevel: c.WVD.SecurityLevel,
	}
	if c.WVD.SendKeyControlNonce {
		info.Flags |= wv.FlagSendKeyControlNonce
	}

	return wv.NewLocalDevice(wv.FromRaw(info, rawClientID, resp.PrivateKey, nil))
}
