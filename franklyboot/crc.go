package franklyboot

import "hash/crc32"

// All integrity checks in the protocol use CRC-32/ISO-HDLC: polynomial
// 0x04C11DB7, reflected in/out, init and xor-out 0xFFFFFFFF. That is the
// crc32 IEEE variant, so host and emulated device are bit-identical by
// construction.

var crcTable = crc32.MakeTable(crc32.IEEE)

// Crc32 computes the checksum of data in one shot.
func Crc32(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// Crc32Update continues a running checksum. Start from 0.
func Crc32Update(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crcTable, data)
}
