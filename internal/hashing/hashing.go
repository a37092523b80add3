// Package hashing computes and verifies the content-hash commitment that
// anchors off-ledger proposition content to a wager.
package hashing

import (
	"crypto/subtle"

	"golang.org/x/crypto/sha3"
)

// Commit returns the canonical keccak-256 commitment over the proposition's
// two off-ledger references: the full-content key concatenated with the
// preview key. The ledger stores this digest verbatim; semantic correctness
// of the content behind the references is an off-ledger concern.
func Commit(contentRef, previewRef string) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(contentRef))
	h.Write([]byte(previewRef))

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// Verify recomputes the commitment for the given references and reports
// whether it equals the claimed digest.
func Verify(contentRef, previewRef string, claimed [32]byte) bool {
	computed := Commit(contentRef, previewRef)
	return subtle.ConstantTimeCompare(computed[:], claimed[:]) == 1
}
