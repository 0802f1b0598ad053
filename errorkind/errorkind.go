// Package errorkind defines the comparable error sentinels propagated by the
// libbluav codec cores. Failures of the kinds listed below are returned as
// one of these (optionally wrapped with github.com/pkg/errors for call-site
// context) so that callers can classify them with errors.Is instead of
// string matching; other failures are reported as plain errors.
package errorkind

import "errors"

var (
	// InvalidDimensions is returned when a bitmap width/height falls outside
	// [8, 4096].
	InvalidDimensions = errors.New("hdmv: invalid bitmap dimensions")

	// TooManyPaletteEntries is returned by Palette.AddRGBA when all 255
	// slots are occupied.
	TooManyPaletteEntries = errors.New("hdmv: too many palette entries")

	// BadPaletteUpdate is returned when a palette update does not bump the
	// version by exactly one (mod 256) for the same palette id.
	BadPaletteUpdate = errors.New("hdmv: bad palette update")

	// BrokenRLE is returned by object.Decode when the RLE stream is
	// malformed: wrong line width or missing/garbled trailing EOL marker.
	BrokenRLE = errors.New("hdmv: broken RLE stream")

	// SizeOverflow is returned by the segment builder when the scratch
	// buffer cannot grow to the requested size.
	SizeOverflow = errors.New("hdmv: segment buffer size overflow")

	// CpbOverflow is the Annex C.3.2 CPB overflow condition.
	CpbOverflow = errors.New("hrd: CPB overflow")

	// CpbUnderflow is the Annex C.3.3 CPB underflow condition.
	CpbUnderflow = errors.New("hrd: CPB underflow")

	// DpbReferenceOverflow signals that num_short_term+num_long_term
	// exceeded Max(max_num_ref_frames, 1).
	DpbReferenceOverflow = errors.New("hrd: DPB reference count overflow")

	// DpbSizeOverflow is the Annex C.3.5 DPB size overflow condition.
	DpbSizeOverflow = errors.New("hrd: DPB size overflow")

	// SequenceTooDense is returned by the PGS generator when a frame cannot
	// be decoded/drawn fast enough before the next one arrives.
	SequenceTooDense = errors.New("pgs: sequence too dense")

	// DOBOverflow is returned when an Epoch's Decoded Object Buffer usage
	// exceeds HDMV_PG_DB_SIZE.
	DOBOverflow = errors.New("pgs: decoded object buffer overflow")

	// MemoryAllocation mirrors the source's allocation-failure path. No
	// operation in this module currently returns it (there is no manual
	// malloc to fail).
	MemoryAllocation = errors.New("hdmv: memory allocation error")

	// IO wraps a failure of a caller-owned sink or source.
	IO = errors.New("hdmv: I/O error")
)

// HRDViolation carries the exact Annex rule identifier and numeric operand
// pair (or quad) that failed, per spec §7. It satisfies the error interface
// and wraps one of the CPB/DPB sentinels above via errors.Is.
type HRDViolation struct {
	Rule     string // e.g. "A.3.1.a", "C.3.2", "C.3.5"
	Operands [4]float64
	NumOps   int
	Kind     error
}

func (v *HRDViolation) Error() string {
	msg := "hrd: rule " + v.Rule + " violated"
	return msg
}

func (v *HRDViolation) Unwrap() error { return v.Kind }

// NewHRDViolation builds a violation for the given rule, kind, and operands.
func NewHRDViolation(rule string, kind error, operands ...float64) *HRDViolation {
	v := &HRDViolation{Rule: rule, Kind: kind}
	v.NumOps = len(operands)
	for i := 0; i < len(operands) && i < 4; i++ {
		v.Operands[i] = operands[i]
	}
	return v
}
