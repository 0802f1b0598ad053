/*
NAME
  crc.go

DESCRIPTION
  crc.go computes the CRC-32 carried by the ES-properties directory,
  adapted from container/mts/psi's CRC-32 (reversed-IEEE polynomial,
  MSB-first, 0xFFFFFFFF seed) to return a value instead of appending it
  in place, since ESMS embeds the checksum mid-directory rather than as a
  trailing field.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package esms

import (
	"hash/crc32"
	"math/bits"
)

var esmsCRCTable = makeCRCTable(bits.Reverse32(crc32.IEEE))

func makeCRCTable(poly uint32) *crc32.Table {
	var t crc32.Table
	for i := range t {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

// crc32ESMS computes the CRC-32 of p using the same MSB-first, reversed-IEEE
// convention as the teacher's MPEG-TS PSI tables.
func crc32ESMS(p []byte) uint32 {
	crc := uint32(0xffffffff)
	for _, v := range p {
		crc = esmsCRCTable[byte(crc>>24)^v] ^ (crc << 8)
	}
	return crc
}
