package wv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Flags is the flag bitfield of a WVD file.
type Flags uint8

const (
	// FlagSendKeyControlNonce sets a random key control nonce on license requests.
	FlagSendKeyControlNonce Flags = 1 << 0
)

const (
	// wvdVersionVMP may carry a trailing VMP blob
	wvdVersionVMP = 1
	wvdVersion    = 2
)

var wvdSignature = [3]byte{'W', 'V', 'D'}

// DeviceInfo describes a local device.
type DeviceInfo struct {
	Type DeviceType
	// SecurityLevel ranges from 1 (highest) to 3 (lowest).
	SecurityLevel uint8
	Flags         Flags
}

type wvdHeader struct {
	Signature     [3]byte
	Version       uint8
	Type          uint8
	SecurityLevel uint8
	Flags         uint8
}

type wvdData struct {
	info       DeviceInfo
	privateKey []byte
	clientID   []byte
	vmp        []byte
}

func parseWVD(r io.Reader) (*wvdData, error) {
	header := &wvdHeader{}
	if err := binary.Read(r, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	if header.Signature != wvdSignature {
		return nil, fmt.Errorf("invalid signature: %v", header.Signature)
	}

	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read rest bytes: %w", err)
	}
	br := bytes.NewReader(rest)

	data := &wvdData{
		info: DeviceInfo{
			Type:          DeviceType(header.Type),
			SecurityLevel: header.SecurityLevel,
			Flags:         Flags(header.Flags),
		},
	}

	switch header.Version {
	case wvdVersionVMP, wvdVersion:
		if data.privateKey, err = readBlock(br); err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		if data.clientID, err = readBlock(br); err != nil {
			return nil, fmt.Errorf("read client id: %w", err)
		}
		if header.Version == wvdVersionVMP && br.Len() > 0 {
			if data.vmp, err = readBlock(br); err != nil {
				return nil, fmt.Errorf("read vmp: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported version: %d", header.Version)
	}

	return data, nil
}

func readBlock(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (w *wvdData) marshal() ([]byte, error) {
	header := wvdHeader{
		Signature:     wvdSignature,
		Version:       wvdVersion,
		Type:          uint8(w.info.Type),
		SecurityLevel: w.info.SecurityLevel,
		Flags:         uint8(w.info.Flags),
	}
	if len(w.vmp) > 0 {
		header.Version = wvdVersionVMP
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	blocks := [][]byte{w.privateKey, w.clientID}
	if header.Version == wvdVersionVMP {
		blocks = append(blocks, w.vmp)
	}
	for _, b := range blocks {
		if len(b) > math.MaxUint16 {
			return nil, fmt.Errorf("block too large: %d bytes", len(b))
		}
		_ = binary.Write(buf, binary.BigEndian, uint16(len(b)))
		buf.Write(b)
	}

	return buf.Bytes(), nil
}
