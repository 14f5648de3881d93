package util

import (
	"encoding/binary"
	"hash/crc32"
)

// Stored records and commit log entries carry a CRC32 (Castagnoli) trailer.
// The trailer is little endian and always 4 bytes.

const ChecksumSize = 4

var crc32Table = crc32.MakeTable(crc32.Castagnoli)

// ComputeChecksum computes the CRC32 checksum of data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum reports whether data matches the expected checksum
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}

// AppendChecksum returns a copy of data followed by its checksum trailer
func AppendChecksum(data []byte) []byte {
	out := make([]byte, len(data), len(data)+ChecksumSize)
	copy(out, data)
	return binary.LittleEndian.AppendUint32(out, ComputeChecksum(data))
}

// ValidateAndStripChecksum splits off the trailer and verifies it.
// The returned slice aliases the input.
func ValidateAndStripChecksum(sealed []byte) (data []byte, expected uint32, ok bool) {
	if len(sealed) < ChecksumSize {
		return nil, 0, false
	}
	n := len(sealed) - ChecksumSize
	data = sealed[:n]
	expected = binary.LittleEndian.Uint32(sealed[n:])
	return data, expected, ValidateChecksum(data, expected)
}
