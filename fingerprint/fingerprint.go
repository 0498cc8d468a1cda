// Package fingerprint turns opaque conflict parameters into the
// fixed-width fingerprints the sequencer compares for overlap, per
// spec.md §4.3.
package fingerprint

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Size is the width of a fingerprint in bytes.
const Size = 32

// Fingerprint is a fixed-width hash of a canonical serialization of a
// conflict parameter.
type Fingerprint [Size]byte

// All is the reserved sentinel fingerprint meaning "conflicts with any
// update on this stream". It is the all-zero, conceptually zero-length,
// vector the sequencer special-cases.
var All = Fingerprint{}

// IsAll reports whether f is the ALL sentinel.
func (f Fingerprint) IsAll() bool {
	return f == All
}

func (f Fingerprint) String() string {
	if f.IsAll() {
		return "ALL"
	}
	return fmt.Sprintf("%x", f[:8])
}

// Of computes the fingerprint of a conflict parameter. param == nil is
// treated as the ALL sentinel, matching the convention used by proxies
// that want to flag "this mutation conflicts with every reader of the
// stream" (e.g. a clear() on a map).
func Of(param any) Fingerprint {
	if param == nil {
		return All
	}
	if p, ok := param.(Fingerprint); ok {
		return p
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&param); err != nil {
		// Canonicalization only fails for unregistered interface values;
		// fall back to the formatted representation, which is still
		// deterministic for any comparable conflict parameter.
		buf.Reset()
		fmt.Fprintf(&buf, "%#v", param)
	}
	return blake2b.Sum256(buf.Bytes())
}

// Set is a small set of fingerprints, used as the hashed view of a
// stream's conflict parameters.
type Set map[Fingerprint]struct{}

// NewSet builds a Set from zero or more fingerprints.
func NewSet(fps ...Fingerprint) Set {
	s := make(Set, len(fps))
	for _, fp := range fps {
		s[fp] = struct{}{}
	}
	return s
}

// Add inserts fp into the set.
func (s Set) Add(fp Fingerprint) {
	s[fp] = struct{}{}
}

// Contains reports whether fp (or the ALL sentinel) is present.
func (s Set) Contains(fp Fingerprint) bool {
	if _, ok := s[All]; ok {
		return true
	}
	_, ok := s[fp]
	return ok
}

// Intersects reports whether s and other share any fingerprint, treating
// ALL in either set as intersecting with anything non-empty in the other.
func (s Set) Intersects(other Set) bool {
	if len(s) == 0 || len(other) == 0 {
		return false
	}
	if _, ok := s[All]; ok {
		return true
	}
	if _, ok := other[All]; ok {
		return true
	}
	small, big := s, other
	if len(big) < len(small) {
		small, big = big, small
	}
	for fp := range small {
		if _, ok := big[fp]; ok {
			return true
		}
	}
	return false
}

// Union merges other into s in place.
func (s Set) Union(other Set) {
	for fp := range other {
		s[fp] = struct{}{}
	}
}
