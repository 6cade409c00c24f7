package wv

import (
	"encoding/binary"
	"fmt"
)

const (
	labelEncryption     = "ENCRYPTION"
	labelAuthentication = "AUTHENTICATION"

	// output sizes in bits, appended to the derivation context
	encryptionKeyBits     = 128
	authenticationKeyBits = 512
)

// DeriveKeys derives the encryption and authentication keys from a 16 byte
// AES key and the serialized message it was negotiated for.
//
// Licenses use the unwrapped session key and the serialized LicenseRequest;
// provisioning uses the keybox device key and the serialized
// ProvisioningRequest.
func DeriveKeys(key, msg []byte) (DerivedKeys, error) {
	enc, err := deriveKey(key, labelEncryption, msg, encryptionKeyBits, 1)
	if err != nil {
		return DerivedKeys{}, fmt.Errorf("derive enc key: %w", err)
	}
	auth1, err := deriveKey(key, labelAuthentication, msg, authenticationKeyBits, 1, 2)
	if err != nil {
		return DerivedKeys{}, fmt.Errorf("derive auth key 1: %w", err)
	}
	auth2, err := deriveKey(key, labelAuthentication, msg, authenticationKeyBits, 3, 4)
	if err != nil {
		return DerivedKeys{}, fmt.Errorf("derive auth key 2: %w", err)
	}

	return DerivedKeys{Enc: enc, Auth1: auth1, Auth2: auth2}, nil
}

// deriveKey concatenates AES-CMAC(key, counter || label || 0x00 || msg || bits)
// for each counter.
func deriveKey(key []byte, label string, msg []byte, bits uint32, counters ...byte) ([]byte, error) {
	context := make([]byte, 0, 1+len(label)+1+len(msg)+4)
	context = append(context, 0)
	context = append(context, label...)
	context = append(context, 0)
	context = append(context, msg...)
	context = binary.BigEndian.AppendUint32(context, bits)

	out := make([]byte, 0, len(counters)*16)
	for _, counter := range counters {
		context[0] = counter
		mac, err := cmacAES(context, key)
		if err != nil {
			return nil, err
		}
		out = append(out, mac...)
	}
	return out, nil
}
