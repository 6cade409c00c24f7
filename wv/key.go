package wv

import (
	"bytes"
	"encoding/hex"

	wvpb "github.com/iyear/gowidevine/widevinepb"
)

// ZeroKeyID is the all-zero key id. Packagers use it as a placeholder, so it
// never identifies a real key.
var ZeroKeyID = [16]byte{}

// Key is a key extracted from a license.
type Key struct {
	// ID is the key id. Keys without an id carry the name of their type instead,
	// e.g. "SIGNING".
	ID []byte
	// Type is the key container type.
	Type wvpb.License_KeyContainer_KeyType
	// Key is the decrypted key.
	Key []byte
	// Permissions lists the allowed operations of an OPERATOR_SESSION key.
	Permissions []string
}

func newKey(container *wvpb.License_KeyContainer, key []byte) *Key {
	k := &Key{
		ID:   container.GetId(),
		Type: container.GetType(),
		Key:  key,
	}
	if len(k.ID) == 0 {
		k.ID = []byte(k.Type.String())
	}
	if k.Type == wvpb.License_KeyContainer_OPERATOR_SESSION {
		k.Permissions = operatorPermissions(container.GetOperatorSessionKeyPermissions())
	}
	return k
}

func operatorPermissions(p *wvpb.License_KeyContainer_OperatorSessionKeyPermissions) []string {
	if p == nil {
		return nil
	}
	var perms []string
	if p.GetAllowEncrypt() {
		perms = append(perms, "allow_encrypt")
	}
	if p.GetAllowDecrypt() {
		perms = append(perms, "allow_decrypt")
	}
	if p.GetAllowSign() {
		perms = append(perms, "allow_sign")
	}
	if p.GetAllowSignatureVerify() {
		perms = append(perms, "allow_signature_verify")
	}
	return perms
}

// IsContent reports whether k decrypts media samples.
func (k *Key) IsContent() bool {
	return k.Type == wvpb.License_KeyContainer_CONTENT
}

// Equal reports whether both keys share a key id.
func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return k == o
	}
	return bytes.Equal(k.ID, o.ID)
}

// KeyIdHex returns the key id as lowercase hex.
func (k *Key) KeyIdHex() string {
	return hex.EncodeToString(k.ID)
}

// KeyHex returns the key as lowercase hex.
func (k *Key) KeyHex() string {
	return hex.EncodeToString(k.Key)
}

// IsZeroKeyID reports whether kid is empty or ZeroKeyID.
func IsZeroKeyID(kid []byte) bool {
	return len(kid) == 0 || bytes.Equal(kid, ZeroKeyID[:])
}
