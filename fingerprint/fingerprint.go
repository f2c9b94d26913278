// Package fingerprint computes a cheap structural digest of an element
// list so redundant change notifications from the drawing surface can be
// suppressed before they start a save cycle.
package fingerprint

import (
	"encoding/binary"
	"hash/fnv"
	"strconv"

	"boardsync/core"
)

// Elements returns a fingerprint derived from each element's id, version
// counter and deletion flag only. Geometry is deliberately excluded: the
// drawing surface bumps an element's version on every mutation, so
// id+version is enough to detect material change, and the digest stays
// O(n) no matter how large individual elements get. Two unrelated lists
// that happen to share ids and versions collide; that is an accepted
// limitation, false negatives are not.
func Elements(elements []core.Element) string {
	h := fnv.New64a()
	var buf [8]byte
	for _, el := range elements {
		h.Write([]byte(el.ID))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], uint64(el.Version))
		h.Write(buf[:])
		if el.IsDeleted {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}
	return strconv.Itoa(len(elements)) + ":" + strconv.FormatUint(h.Sum64(), 16)
}
