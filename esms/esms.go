/*
NAME
  esms.go

DESCRIPTION
  esms.go implements the ESMS intermediate script file envelope: the
  "ESMS" magic header, version/completion bytes, and a directory table of
  (id, offset) pairs pointing at the four downstream-contract directories
  (ES properties, PES cutting, format properties, data blocks), per
  spec.md §6. Only the envelope and the ES-properties directory's exact
  byte layout are specified; the other three directories carry opaque,
  caller-encoded AU command-list payloads, since spec.md places the ESMS
  file format out of Core A/B's scope beyond its emission points.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package esms implements the ESMS intermediate script file writer: the
// fixed-layout script libbluav emits for a downstream muxer to consume,
// per spec.md §6.
package esms

import (
	"github.com/pkg/errors"
)

// FileHeader is the 4-byte ESMS magic, per spec.md §6.
const FileHeader = "ESMS"

// Version is the script format version written in every file.
const Version = 1

// DirectoryID identifies one of the four ESMS directories.
type DirectoryID uint8

const (
	DirESProperties     DirectoryID = 1 // ES-properties: source path, CRC control.
	DirPESCutting       DirectoryID = 2 // ES PES cutting: per-PES offsets/sizes.
	DirFormatProperties DirectoryID = 3 // ES format properties: codec-specific header.
	DirDataBlocks       DirectoryID = 4 // ES data blocks: AU command list.
)

type directory struct {
	id      DirectoryID
	payload []byte
}

// Writer accumulates ESMS directories and serialises them into one script
// file, per scriptData.c's directory table model (ESMSDirectoryIdStr,
// getDirectoryOffset).
type Writer struct {
	dirs []directory
}

// NewWriter returns an empty ESMS script writer.
func NewWriter() *Writer {
	return &Writer{}
}

// AddESProperties appends the ES-properties directory: the UTF-8 source
// path (16-bit length-prefixed), the CRC control window size, and the
// CRC-32 of the first crcControlSize bytes of crcControlData, per
// spec.md §6's directory 1 layout.
func (w *Writer) AddESProperties(path string, crcControlSize uint32, crcControlData []byte) error {
	pathBytes := []byte(path)
	if len(pathBytes) > 0xFFFF {
		return errors.Errorf("esms: source path too long (%d bytes)", len(pathBytes))
	}

	n := int(crcControlSize)
	if n > len(crcControlData) {
		n = len(crcControlData)
	}

	buf := make([]byte, 0, 2+len(pathBytes)+4+4)
	buf = appendU16(buf, uint16(len(pathBytes)))
	buf = append(buf, pathBytes...)
	buf = appendU32(buf, crcControlSize)
	buf = appendU32(buf, crc32ESMS(crcControlData[:n]))

	w.dirs = append(w.dirs, directory{id: DirESProperties, payload: buf})
	return nil
}

// AddPESCutting appends the ES PES cutting directory with an
// already-encoded payload; its internal layout (per-PES packet offset and
// size list) is a downstream-muxer contract outside this core's scope.
func (w *Writer) AddPESCutting(payload []byte) {
	w.dirs = append(w.dirs, directory{id: DirPESCutting, payload: payload})
}

// AddFormatProperties appends the ES format properties directory with an
// already-encoded, codec-specific payload.
func (w *Writer) AddFormatProperties(payload []byte) {
	w.dirs = append(w.dirs, directory{id: DirFormatProperties, payload: payload})
}

// AddDataBlocks appends the ES data blocks directory: the AU command list
// payload, already encoded by the caller.
func (w *Writer) AddDataBlocks(payload []byte) {
	w.dirs = append(w.dirs, directory{id: DirDataBlocks, payload: payload})
}

// Bytes serialises the accumulated directories into one ESMS script file.
// complete sets the completion byte, written 1 once every expected
// directory for the intended use (muxing or remuxing) has been added.
func (w *Writer) Bytes(complete bool) []byte {
	const headerSize = 4 + 1 + 1 + 1 // magic, version, completion, directory count.
	const directoryEntrySize = 1 + 8 // id, u64 offset.

	out := make([]byte, 0, headerSize+len(w.dirs)*directoryEntrySize)
	out = append(out, FileHeader...)
	out = append(out, Version)
	if complete {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = append(out, uint8(len(w.dirs)))

	offset := uint64(len(out) + len(w.dirs)*directoryEntrySize)
	for _, d := range w.dirs {
		out = append(out, uint8(d.id))
		out = appendU64(out, offset)
		offset += uint64(len(d.payload))
	}
	for _, d := range w.dirs {
		out = append(out, d.payload...)
	}
	return out
}

func appendU16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendU32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendU64(dst []byte, v uint64) []byte {
	return append(dst,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
