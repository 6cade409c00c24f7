package wv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

const (
	chromeSessionIdLength = 16
	androidSessionIdWidth = 32
	// androidSessionCounter resets regularly on real devices, so a fixed
	// value is indistinguishable.
	androidSessionCounter = "01"
)

var zeroContentKey [16]byte

// Exchanger is implemented by devices that return the keys a message security
// layer negotiates through a license, looked up by key id.
type Exchanger interface {
	Exchange(s *Session, license, encKeyID, hmacKeyID []byte) (encKey, signKey []byte, err error)
}

// CDM implements the Widevine CDM protocol on top of a Device.
type CDM struct {
	device Device
	rand   io.Reader
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewCDM creates a new CDM.
//
// Get a device by calling NewLocalDevice or NewRemoteDevice.
func NewCDM(device Device, opts ...Option) *CDM {
	if device == nil {
		panic("device cannot be nil")
	}

	o := newOptions(opts)
	return &CDM{
		device:   device,
		rand:     o.rand,
		logger:   o.logger,
		sessions: make(map[string]*Session),
	}
}

func (c *CDM) Device() Device {
	return c.device
}

func (c *CDM) GetSystemId() uint32 {
	return c.device.SystemID()
}

// Open opens a new session for pssh and returns its id. Sessions are
// independent of each other.
//
// pssh is a full MP4 pssh box. Set raw for incomplete init data, such as the
// key exchange data of message security layers, which is then sent verbatim.
// offline requests an OFFLINE license instead of a STREAMING one.
func (c *CDM) Open(pssh []byte, raw, offline bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var id []byte
	for {
		var err error
		if id, err = c.newSessionId(); err != nil {
			return nil, fmt.Errorf("create session id: %w", err)
		}
		if _, ok := c.sessions[string(id)]; !ok {
			break
		}
	}

	session, err := NewSession(id, pssh, raw, offline)
	if err != nil {
		return nil, err
	}
	c.sessions[string(id)] = session

	c.logger.Debug("session opened",
		slog.String("session_id", session.HexId()),
		slog.Bool("raw", raw),
		slog.Bool("offline", offline))

	return id, nil
}

func (c *CDM) newSessionId() ([]byte, error) {
	switch c.device.Type() {
	case DeviceTypeAndroid:
		b, err := randomBytes(c.rand, 8)
		if err != nil {
			return nil, err
		}
		id := fmt.Sprintf("%016X%s", binary.BigEndian.Uint64(b), androidSessionCounter)
		id += strings.Repeat("0", androidSessionIdWidth-len(id))
		return []byte(id), nil
	case DeviceTypeChrome:
		return randomBytes(c.rand, chromeSessionIdLength)
	default:
		return nil, fmt.Errorf("%w: device type %s is not implemented", ErrInvalidInput, c.device.Type())
	}
}

// Close closes a session. It reports false if the session was not open.
func (c *CDM) Close(sessionId []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[string(sessionId)]; !ok {
		return false
	}
	delete(c.sessions, string(sessionId))

	c.logger.Debug("session closed", slog.String("session_id", fmt.Sprintf("%x", sessionId)))
	return true
}

func (c *CDM) IsSessionOpen(sessionId []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.sessions[string(sessionId)]
	return ok
}

// OpenSessions returns the number of open sessions.
func (c *CDM) OpenSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sessions)
}

func (c *CDM) GetSession(sessionId []byte) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[string(sessionId)]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownSession, sessionId)
	}
	return s, nil
}

// SetServiceCertificate enables privacy mode for a session. cert is a
// SignedMessage holding a SignedDrmCertificate.
func (c *CDM) SetServiceCertificate(sessionId []byte, cert []byte) error {
	s, err := c.GetSession(sessionId)
	if err != nil {
		return err
	}
	if err = c.device.SetServiceCertificate(s, cert); err != nil {
		return fmt.Errorf("set service certificate: %w", err)
	}
	return nil
}

// GetLicenseChallenge returns a signed license request for the session. It
// replaces any request built before.
func (c *CDM) GetLicenseChallenge(sessionId []byte) ([]byte, error) {
	s, err := c.GetSession(sessionId)
	if err != nil {
		return nil, err
	}

	challenge, err := c.device.GetLicenseChallenge(s)
	if err != nil {
		return nil, fmt.Errorf("get license challenge: %w", err)
	}

	c.logger.Debug("license challenge created",
		slog.String("session_id", s.HexId()),
		slog.Bool("privacy_mode", s.PrivacyMode))
	return challenge, nil
}

// ParseLicense verifies a license response for the session and stores its
// keys.
func (c *CDM) ParseLicense(sessionId []byte, license []byte) error {
	s, err := c.GetSession(sessionId)
	if err != nil {
		return err
	}

	before := len(s.Keys)
	if err = c.device.ParseLicense(s, license); err != nil {
		c.logger.Warn("license rejected",
			slog.String("session_id", s.HexId()),
			slog.String("error", err.Error()))
		return fmt.Errorf("parse license: %w", err)
	}

	c.logger.Info("license parsed",
		slog.String("session_id", s.HexId()),
		slog.Int("keys", len(s.Keys)-before))
	return nil
}

// GetKeys returns the keys of a session, optionally only content keys.
func (c *CDM) GetKeys(sessionId []byte, contentOnly bool) ([]*Key, error) {
	s, err := c.GetSession(sessionId)
	if err != nil {
		return nil, err
	}

	if !contentOnly {
		return slices.Clone(s.Keys), nil
	}
	keys := make([]*Key, 0, len(s.Keys))
	for _, key := range s.Keys {
		if key.IsContent() {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// ContentKey returns the content key for kid. It returns ErrKeyNotFound when
// the license carried no such key or only an all-zero one, in which case the
// caller may try another source.
func (c *CDM) ContentKey(sessionId, kid []byte) ([]byte, error) {
	if IsZeroKeyID(kid) {
		return nil, fmt.Errorf("%w: placeholder key id", ErrInvalidInput)
	}

	keys, err := c.GetKeys(sessionId, true)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if bytes.Equal(key.ID, kid) && !bytes.Equal(key.Key, zeroContentKey[:]) {
			return key.Key, nil
		}
	}
	return nil, fmt.Errorf("%w: %x", ErrKeyNotFound, kid)
}

// Exchange runs a key exchange on the session. The device must implement
// Exchanger.
func (c *CDM) Exchange(sessionId, license, encKeyID, hmacKeyID []byte) (encKey, signKey []byte, err error) {
	ex, ok := c.device.(Exchanger)
	if !ok {
		return nil, nil, fmt.Errorf("%w: device type %T does not support key exchange", ErrInvalidInput, c.device)
	}

	s, err := c.GetSession(sessionId)
	if err != nil {
		return nil, nil, err
	}
	return ex.Exchange(s, license, encKeyID, hmacKeyID)
}
