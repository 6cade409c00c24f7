package wv

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/google/uuid"
	wvpb "github.com/iyear/gowidevine/widevinepb"
	"google.golang.org/protobuf/proto"
)

// SystemID is the DRM system id of Widevine.
var SystemID = uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")

// URN is the scheme id DASH manifests use for Widevine content protection.
var URN = SystemID.URN()

// PSSH represents a PSSH box containing Widevine data.
type PSSH struct {
	box  *mp4.PsshBox
	data *wvpb.WidevinePsshData
}

// NewPSSH creates a PSSH from a full MP4 pssh box, either as raw bytes or
// base64 encoded. A raw box starts with a zero size byte, so it is never valid
// base64.
func NewPSSH(b []byte) (*PSSH, error) {
	if decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(b))); err == nil {
		b = decoded
	}

	box, err := mp4.DecodeBox(0, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decode box: %w", err)
	}

	psshBox, ok := box.(*mp4.PsshBox)
	if !ok {
		return nil, fmt.Errorf("box is a %s instead of a PSSH", box.Type())
	}

	if !bytes.Equal(psshBox.SystemID, SystemID[:]) {
		return nil, fmt.Errorf("system id is %s instead of widevine", hex.EncodeToString(psshBox.SystemID))
	}

	data := &wvpb.WidevinePsshData{}
	if err = proto.Unmarshal(psshBox.Data, data); err != nil {
		return nil, fmt.Errorf("unmarshal pssh data: %w", err)
	}

	return &PSSH{
		box:  psshBox,
		data: data,
	}, nil
}

// BuildPSSH encodes a version 0 Widevine pssh box announcing kids.
func BuildPSSH(kids ...[]byte) ([]byte, error) {
	data, err := proto.Marshal(&wvpb.WidevinePsshData{KeyIds: kids})
	if err != nil {
		return nil, fmt.Errorf("marshal pssh data: %w", err)
	}

	box := &mp4.PsshBox{
		SystemID: SystemID[:],
		Data:     data,
	}

	buf := &bytes.Buffer{}
	if err = box.Encode(buf); err != nil {
		return nil, fmt.Errorf("encode box: %w", err)
	}
	return buf.Bytes(), nil
}

// Version returns the version of the PSSH box.
func (p *PSSH) Version() byte {
	return p.box.Version
}

// Flags returns the flags of the PSSH box.
func (p *PSSH) Flags() uint32 {
	return p.box.Flags
}

// RawData returns the init data of the PSSH box.
func (p *PSSH) RawData() []byte {
	return p.box.Data
}

// Data returns the parsed init data of the PSSH box.
func (p *PSSH) Data() *wvpb.WidevinePsshData {
	return p.data
}

// KeyIDs returns the key ids of the init data, skipping placeholders.
func (p *PSSH) KeyIDs() [][]byte {
	return usableKeyIDs(p.data.GetKeyIds())
}

func usableKeyIDs(ids [][]byte) [][]byte {
	var kids [][]byte
	for _, kid := range ids {
		if !IsZeroKeyID(kid) {
			kids = append(kids, kid)
		}
	}
	return kids
}
