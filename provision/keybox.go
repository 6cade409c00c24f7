// Package provision turns a Widevine keybox into a device certificate and a
// WVD file through the certificate provisioning service.
package provision

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/devatadev/gowvcdm/wv"
)

const (
	keyboxLength = 128
	// qseeKeyboxLength is a keybox followed by a "LVL1" trailer.
	qseeKeyboxLength = keyboxLength + 4

	flagConsumer = 1 << 1
)

var (
	keyboxMagic = []byte("kbox")
	qseeTrailer = []byte("LVL1")
)

// Keybox is the factory root of trust of an OEMCrypto device.
type Keybox struct {
	// StableID is the device id shown to users.
	StableID []byte
	// DeviceAESKey is the root key provisioning keys are derived from.
	DeviceAESKey []byte
	// DeviceID is the opaque token sent to the provisioning service.
	DeviceID []byte
	Flags    uint32
	SystemID uint32
}

// ParseKeybox parses a 128 byte keybox, or a 132 byte QSEE keybox ending in
// "LVL1", and checks its CRC.
func ParseKeybox(b []byte) (*Keybox, error) {
	switch len(b) {
	case keyboxLength:
	case qseeKeyboxLength:
		if !bytes.Equal(b[keyboxLength:], qseeTrailer) {
			return nil, fmt.Errorf("%w: QSEE style keybox does not end in %q", wv.ErrInvalidInput, qseeTrailer)
		}
		b = b[:keyboxLength]
	default:
		return nil, fmt.Errorf("%w: keybox is %d bytes, expected %d or %d",
			wv.ErrInvalidInput, len(b), keyboxLength, qseeKeyboxLength)
	}

	if !bytes.Equal(b[0x78:0x7C], keyboxMagic) {
		return nil, fmt.Errorf("%w: invalid keybox magic", wv.ErrInvalidInput)
	}

	want := binary.BigEndian.Uint32(b[0x7C:])
	if got := crc32MPEG2(b[:0x7C]); got != want {
		return nil, fmt.Errorf("%w: keybox crc is 0x%08X, expected 0x%08X", wv.ErrInvalidInput, got, want)
	}

	kb := &Keybox{
		StableID:     bytes.Clone(b[0x00:0x20]),
		DeviceAESKey: bytes.Clone(b[0x20:0x30]),
		DeviceID:     bytes.Clone(b[0x30:0x78]),
	}
	kb.Flags = binary.BigEndian.Uint32(kb.DeviceID[0:4])
	kb.SystemID = binary.BigEndian.Uint32(kb.DeviceID[4:8])

	return kb, nil
}

// LoadKeybox reads a keybox file.
func LoadKeybox(path string) (*Keybox, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKeybox(b)
}

// Consumer reports whether the keybox belongs to a retail device rather than
// a test device.
func (k *Keybox) Consumer() bool {
	return k.Flags&flagConsumer != 0
}

func (k *Keybox) String() string {
	return fmt.Sprintf("%s (%d)", bytes.TrimRight(k.StableID, "\x00 "), k.SystemID)
}
