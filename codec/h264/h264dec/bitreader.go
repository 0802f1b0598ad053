/*
NAME
  bitreader.go

DESCRIPTION
  bitreader.go provides the bit-at-a-time reader the sequence parameter set
  parser needs to walk an Exp-Golomb-coded RBSP.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package h264dec

import (
	"bufio"
	"io"
)

// bitReader reads bits from an io.Reader source, most significant bit
// first. It is the minimal surface seq_parameter_set_data() needs; the
// peeking/byte-alignment methods a full NAL-unit or slice reader would
// require are not carried here.
type bitReader struct {
	r     *bufio.Reader
	n     uint64
	bits  int
}

func newBitReader(r io.Reader) *bitReader {
	return &bitReader{r: bufio.NewReader(r)}
}

// readBits reads n bits and returns them in the least-significant part of a
// uint64, per the same convention as H.264's u(n) descriptor.
func (br *bitReader) readBits(n int) (uint64, error) {
	for n > br.bits {
		b, err := br.r.ReadByte()
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		if err != nil {
			return 0, err
		}
		br.n <<= 8
		br.n |= uint64(b)
		br.bits += 8
	}
	r := (br.n >> uint(br.bits-n)) & ((1 << uint(n)) - 1)
	br.bits -= n
	return r, nil
}
