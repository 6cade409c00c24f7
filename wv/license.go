package wv

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

// loadLicense verifies signedMsg against the keys derived from sessionKey and
// the outstanding request, then appends the decrypted keys to s. s is left
// untouched on any error.
func (s *Session) loadLicense(sessionKey []byte, signedMsg *wvpb.SignedMessage) error {
	if len(sessionKey) != sessionKeyLength {
		return fmt.Errorf("%w: invalid session key length: %d", ErrMalformedResponse, len(sessionKey))
	}

	derived, err := DeriveKeys(sessionKey, s.LicenseRequest.GetMsg())
	if err != nil {
		return fmt.Errorf("derive keys: %w", err)
	}

	licenseMsgHMAC := hmac.New(sha256.New, derived.Auth1)
	licenseMsgHMAC.Write(signedMsg.GetMsg())
	if !hmac.Equal(signedMsg.GetSignature(), licenseMsgHMAC.Sum(nil)) {
		return fmt.Errorf("%w: signed license signature doesn't match its message", ErrSignatureMismatch)
	}

	licenseMsg := &wvpb.License{}
	if err = proto.Unmarshal(signedMsg.GetMsg(), licenseMsg); err != nil {
		return fmt.Errorf("%w: unmarshal license message: %w", ErrMalformedResponse, err)
	}

	keys := make([]*Key, 0, len(licenseMsg.GetKey()))
	for _, container := range licenseMsg.GetKey() {
		// key control blocks carry no key material
		if container.GetType() == wvpb.License_KeyContainer_KEY_CONTROL {
			continue
		}
		if len(container.GetKey()) == 0 {
			return fmt.Errorf("%w: %s key container has no key", ErrMalformedResponse, container.GetType())
		}
		decryptedKey, err := DecryptAES(derived.Enc, container.GetIv(), container.GetKey())
		if err != nil {
			return fmt.Errorf("%w: decrypt %s key: %w", ErrMalformedResponse, container.GetType(), err)
		}
		keys = append(keys, newKey(container, decryptedKey))
	}

	s.SessionKey = sessionKey
	s.DerivedKeys = derived
	s.SignedLicense = signedMsg
	s.Keys = append(s.Keys, keys...)

	return nil
}
