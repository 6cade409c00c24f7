package provision

import "github.com/snksoft/crc"

// mpeg2 is CRC-32/MPEG-2: unreflected, no final xor.
var mpeg2 = crc.NewTable(&crc.Parameters{
	Width:      32,
	Polynomial: 0x04C11DB7,
	Init:       0xFFFFFFFF,
	ReflectIn:  false,
	ReflectOut: false,
	FinalXor:   0,
})

func crc32MPEG2(b []byte) uint32 {
	return uint32(mpeg2.CalculateCRC(b))
}
