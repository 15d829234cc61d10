package slice

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Digest computes the canonical slice digest: SHA-256 over a
// length-prefixed encoding of the policy identity, the anchor, and the
// ordered member ids. Length prefixes (uvarint) make the encoding
// injective, and members hash in slice order, so two distinct slices
// or policies never collide and the digest is reproducible by an
// independent verifier.
func Digest(policyID string, policyVersion int, anchorID string, recordIDs []string) string {
	h := sha256.New()
	var buf [binary.MaxVarintLen64]byte

	writeUvarint := func(v uint64) {
		n := binary.PutUvarint(buf[:], v)
		h.Write(buf[:n])
	}
	writeString := func(s string) {
		writeUvarint(uint64(len(s)))
		h.Write([]byte(s))
	}

	writeString(policyID)
	writeUvarint(uint64(policyVersion))
	writeString(anchorID)
	writeUvarint(uint64(len(recordIDs)))
	for _, id := range recordIDs {
		writeString(id)
	}

	return hex.EncodeToString(h.Sum(nil))
}
