package wv

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Device performs, or delegates, the cryptography of a CDM.
type Device interface {
	// Type is the device family. It decides the session id format.
	Type() DeviceType
	// SystemID is the Widevine system id of the device certificate.
	SystemID() uint32
	// SetServiceCertificate stores a service certificate on s and enables
	// privacy mode.
	SetServiceCertificate(s *Session, cert []byte) error
	// GetLicenseChallenge builds a signed license request for s.
	GetLicenseChallenge(s *Session) ([]byte, error)
	// ParseLicense verifies a license response and adds its keys to s.
	ParseLicense(s *Session, license []byte) error
}

type DeviceType uint8

const (
	DeviceTypeChrome  DeviceType = 1
	DeviceTypeAndroid DeviceType = 2
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeChrome:
		return "CHROME"
	case DeviceTypeAndroid:
		return "ANDROID"
	default:
		return fmt.Sprintf("DeviceType(%d)", uint8(t))
	}
}

// ParseDeviceType parses a device type name, ignoring case.
func ParseDeviceType(s string) (DeviceType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CHROME":
		return DeviceTypeChrome, nil
	case "ANDROID":
		return DeviceTypeAndroid, nil
	default:
		return 0, fmt.Errorf("%w: unknown device type %q", ErrInvalidInput, s)
	}
}

func (t DeviceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DeviceType) UnmarshalText(b []byte) error {
	v, err := ParseDeviceType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Option configures a CDM or a LocalDevice.
type Option func(*options)

type options struct {
	rand   io.Reader
	now    func() time.Time
	logger *slog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		rand:   rand.Reader,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRandom sets the random source used for session ids, nonces, privacy
// keys and signatures. It defaults to crypto/rand.Reader and must be
// cryptographically secure outside of tests.
func WithRandom(r io.Reader) Option {
	return func(o *options) {
		o.rand = r
	}
}

// WithNow sets the clock used for license request timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger of the CDM.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
