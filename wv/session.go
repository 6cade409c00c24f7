package wv

import (
	"encoding/hex"
	"fmt"

	wvpb "github.com/iyear/gowidevine/widevinepb"
)

// DerivedKeys are the keys derived from a session key.
type DerivedKeys struct {
	// Enc decrypts the key containers of a license.
	Enc []byte
	// Auth1 verifies the license signature.
	Auth1 []byte
	// Auth2 signs renewals. It is never used while parsing a license.
	Auth2 []byte
}

// Session is the negotiation state for one PSSH.
//
// A Session is owned by a single caller; the CDM only guards its session map.
type Session struct {
	Id []byte
	// PSSH is the init data as given to the CDM.
	PSSH []byte
	// CencHeader is the serialized WidevinePsshData placed in license requests.
	CencHeader []byte
	// Header is the parsed CencHeader. It is nil for raw sessions.
	Header  *wvpb.WidevinePsshData
	Offline bool
	Raw     bool

	SessionKey  []byte
	DerivedKeys DerivedKeys

	// LicenseRequest is the outstanding signed request. Building a new
	// challenge replaces it.
	LicenseRequest *wvpb.SignedMessage
	SignedLicense  *wvpb.SignedMessage

	ServiceCertificate       *wvpb.DrmCertificate
	SignedServiceCertificate *wvpb.SignedDrmCertificate
	PrivacyMode              bool

	Keys []*Key

	// remote state, see RemoteDevice
	remoteCertificate string
	remoteSessionId   string
}

// NewSession creates a session for pssh.
//
// pssh must be a full MP4 pssh box unless raw is set, in which case the bytes
// are sent verbatim as the cenc header.
func NewSession(id, pssh []byte, raw, offline bool) (*Session, error) {
	if len(id) == 0 {
		return nil, fmt.Errorf("%w: a session id must be provided", ErrInvalidInput)
	}
	if len(pssh) == 0 {
		return nil, fmt.Errorf("%w: a pssh must be provided", ErrInvalidInput)
	}

	s := &Session{
		Id:      id,
		PSSH:    pssh,
		Offline: offline,
		Raw:     raw,
	}

	if raw {
		s.CencHeader = pssh
		return s, nil
	}

	p, err := NewPSSH(pssh)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	s.CencHeader = p.RawData()
	s.Header = p.Data()

	return s, nil
}

func (s *Session) HexId() string {
	return hex.EncodeToString(s.Id)
}

// KeyIDs returns the key ids announced by the cenc header, skipping
// placeholders.
func (s *Session) KeyIDs() [][]byte {
	return usableKeyIDs(s.Header.GetKeyIds())
}

func (s *Session) licenseType() wvpb.LicenseType {
	if s.Offline {
		return wvpb.LicenseType_OFFLINE
	}
	return wvpb.LicenseType_STREAMING
}
