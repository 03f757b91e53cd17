package sniffer

import (
	"errors"

	"github.com/solsniper/sniper/chain"
)

// ExtractError is the closed set of extraction failures from spec.md §4.1
// stage 3 / §7.
type ExtractError struct {
	Kind string
}

func (e *ExtractError) Error() string { return "extract: " + e.Kind }

var (
	errTooSmall    = &ExtractError{Kind: "TooSmall"}
	errOutOfBounds = &ExtractError{Kind: "OutOfBounds"}
	errInvalidMint = &ExtractError{Kind: "InvalidMint"}
)

// IsTooSmall, IsOutOfBounds, IsInvalidMint let callers classify an error
// for the per-kind counters without string matching.
func IsTooSmall(err error) bool    { return errors.Is(err, errTooSmall) }
func IsOutOfBounds(err error) bool { return errors.Is(err, errOutOfBounds) }
func IsInvalidMint(err error) bool { return errors.Is(err, errInvalidMint) }

const maxCandidateAccounts = 8

// extracted is the intermediate result before a TraceID and Priority are
// attached by the caller.
type extracted struct {
	mint     chain.PublicKey
	accounts [maxCandidateAccounts]chain.PublicKey
	numAccts uint8
}

// fastExtract is §4.1 stage 3 fast mode: offset-based indexing of the
// account-keys region, no parsing of instruction data. It treats the
// bytes at accountKeysRegionLo as a packed array of 32-byte pubkeys; by
// convention of this deployment's frame layout, index 0 is the mint
// involved in the DEX/token instruction the prefilter already matched
// on, and the remaining non-zero indices are the candidate's other
// accounts (all-zero slots are skipped, never counted as accounts).
// This convention is a simplifying,
// explicitly-documented assumption (see DESIGN.md) standing in for the
// full transaction-message account-key parse that safeExtract performs.
func fastExtract(frame []byte) (extracted, error) {
	if len(frame) < minFrameLen {
		return extracted{}, errTooSmall
	}

	end := accountKeysRegionHi
	if end > len(frame) {
		end = len(frame)
	}
	available := end - accountKeysRegionLo
	if available < programIDLen*2 {
		return extracted{}, errOutOfBounds
	}

	n := available / programIDLen
	if n > maxCandidateAccounts+1 {
		n = maxCandidateAccounts + 1
	}

	out := extracted{}
	for i := 0; i < n; i++ {
		start := accountKeysRegionLo + i*programIDLen
		if start+programIDLen > len(frame) {
			return extracted{}, errOutOfBounds
		}
		var key chain.PublicKey
		copy(key[:], frame[start:start+programIDLen])
		if i == 0 {
			if key.IsZero() {
				return extracted{}, errInvalidMint
			}
			out.mint = key
			continue
		}
		if key.IsZero() {
			continue
		}
		if int(out.numAccts) >= maxCandidateAccounts {
			break
		}
		out.accounts[out.numAccts] = key
		out.numAccts++
	}
	return out, nil
}

// MessageParser is the interface a full transaction-message deserializer
// must satisfy for safeExtract. It is injected so sniffer has no direct
// dependency on a wire-format decoder implementation (out of scope per
// spec.md §1); a deployment supplies a concrete parser.
type MessageParser interface {
	ParseAccountKeys(frame []byte) ([]chain.PublicKey, error)
}

// priceHinter is an optional capability a MessageParser may additionally
// implement to supply Candidate.PriceHint in safe mode.
type priceHinter interface {
	PriceHint(frame []byte) float64
}

// safeExtract is §4.1 stage 3 safe mode: delegates to a full
// deserializer. Strictly correct, higher cost.
func safeExtract(frame []byte, parser MessageParser) (extracted, error) {
	if len(frame) < minFrameLen {
		return extracted{}, errTooSmall
	}
	keys, err := parser.ParseAccountKeys(frame)
	if err != nil {
		return extracted{}, errOutOfBounds
	}
	if len(keys) == 0 {
		return extracted{}, errOutOfBounds
	}
	if keys[0].IsZero() {
		return extracted{}, errInvalidMint
	}
	out := extracted{mint: keys[0]}
	for _, k := range keys[1:] {
		if int(out.numAccts) >= maxCandidateAccounts {
			break
		}
		out.accounts[out.numAccts] = k
		out.numAccts++
	}
	return out, nil
}
