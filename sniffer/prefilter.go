package sniffer

// Byte offsets into a raw transaction frame. The account-keys region is
// scanned first and, per spec.md §4.1 stage 2, only falls through to a
// full-buffer scan when the narrower window misses — this keeps the
// common case a single bounded memchr-style scan.
const (
	minFrameLen          = 128
	accountKeysRegionLo  = 67
	accountKeysRegionHi  = 512
	programIDLen         = 32
)

// ProgramIDs holds the fixed 32-byte identifiers the prefilter and
// extractor key off of. These are deployment constants (vote program,
// target DEX, SPL token program), not file-format knobs, so they are
// passed in at construction rather than living in internal/config.
type ProgramIDs struct {
	VoteProgram    [32]byte
	DexProgram     [32]byte
	SPLTokenProgram [32]byte
}

// prefilterResult distinguishes an accept from each rejection reason so
// callers can bump the right counter without re-deriving it.
type prefilterResult int

const (
	prefilterAccept prefilterResult = iota
	prefilterRejectTooShort
	prefilterRejectVote
	prefilterRejectNoMatch
)

// prefilter implements §4.1 stage 2: zero-copy, hot-path, no allocation.
// Rules are applied in order with short-circuit on first pass or reject.
func prefilter(frame []byte, ids ProgramIDs) prefilterResult {
	if len(frame) < minFrameLen {
		return prefilterRejectTooShort
	}

	hi := accountKeysRegionHi
	if hi > len(frame) {
		hi = len(frame)
	}
	lo := accountKeysRegionLo
	if lo > hi {
		lo = hi
	}
	window := frame[lo:hi]

	if containsID(window, ids.VoteProgram) {
		return prefilterRejectVote
	}
	if containsID(window, ids.DexProgram) {
		return prefilterAccept
	}
	if containsID(window, ids.SPLTokenProgram) {
		return prefilterAccept
	}

	// Fall through to a full-buffer window scan only on a miss in the
	// narrow region.
	if containsID(frame, ids.VoteProgram) {
		return prefilterRejectVote
	}
	if containsID(frame, ids.DexProgram) {
		return prefilterAccept
	}
	if containsID(frame, ids.SPLTokenProgram) {
		return prefilterAccept
	}
	return prefilterRejectNoMatch
}

// containsID reports whether needle appears anywhere in haystack. This is
// a plain byte-window search, not a hash lookup: the hot path trades a
// few extra comparisons for zero allocation (no index structure to
// build per frame).
func containsID(haystack []byte, needle [32]byte) bool {
	if len(haystack) < programIDLen {
		return false
	}
	for i := 0; i+programIDLen <= len(haystack); i++ {
		if matches32(haystack[i:i+programIDLen], needle) {
			return true
		}
	}
	return false
}

func matches32(b []byte, needle [32]byte) bool {
	for i := 0; i < programIDLen; i++ {
		if b[i] != needle[i] {
			return false
		}
	}
	return true
}
