// Package authority derives the signing identity that controls a tree.
//
// The identity is a deterministic function of the tree's address and the
// program identifier, so it needs no storage and its lifecycle is bound to
// the tree itself. Derivation searches bump values from 255 downward for the
// first candidate hash that is not a valid edwards25519 point; requiring the
// identity to be off-curve guarantees nobody holds a private key for it, so
// the only way to act as the authority is to present the (identity, bump)
// pair and have it re-derived and checked.
package authority

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"
)

// derivationDomain separates authority derivation from any other use of the
// same hash inputs.
const derivationDomain = "NoteTreeAuthority"

// ErrNoBumpFound is returned if every bump value yields an on-curve
// candidate. With 256 attempts this is cryptographically unreachable, but
// the search is bounded so the failure is surfaced rather than looped on.
var ErrNoBumpFound = errors.New("no valid bump seed found")

// Identity is a derived 32-byte authority identifier.
type Identity [32]byte

// Derive returns the authority identity for a tree and the bump seed that
// produced it. The result is deterministic: every caller derives the same
// identity for the same (programID, treeAddr) pair.
func Derive(programID, treeAddr [32]byte) (Identity, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		c := candidate(programID, treeAddr, uint8(bump))
		if !onCurve(c) {
			return c, uint8(bump), nil
		}
	}
	return Identity{}, 0, ErrNoBumpFound
}

// Verify reports whether (identity, bump) is the valid authority for the
// tree. The bump presented by the caller stands in for the original scheme's
// signature proof: it is only accepted if re-derivation lands on the same
// off-curve identity.
func Verify(programID, treeAddr [32]byte, identity Identity, bump uint8) bool {
	c := candidate(programID, treeAddr, bump)
	return c == identity && !onCurve(c)
}

func candidate(programID, treeAddr [32]byte, bump uint8) Identity {
	h := sha256.New()
	h.Write(treeAddr[:])
	h.Write([]byte{bump})
	h.Write(programID[:])
	h.Write([]byte(derivationDomain))

	var out Identity
	copy(out[:], h.Sum(nil))
	return out
}

// onCurve reports whether b decodes as a valid edwards25519 point.
func onCurve(b Identity) bool {
	_, err := new(edwards25519.Point).SetBytes(b[:])
	return err == nil
}
