package partman

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// triggerEntryKey derives the trigger-bus key for a NotifyTrigger entry
// from its fields (sampleEntryKey below does the same for the data bus).
// spec.md §4.6/§4.7 call this
// hash(nt)/hash(nd); blake2b is used here deliberately instead of the
// xxhash already in play for trigger-key placement (internal/bucket), so a
// placement-fingerprint collision can never alias a bus-entry key — the
// two hashes serve unrelated concerns and a shared one would couple them
// for no benefit.
func triggerEntryKey(nt notifyTrigger) string {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write([]byte("trigger\x00"))
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(nt.FromNode))
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:], uint32(nt.ToNode))
	h.Write(buf[:])
	h.Write([]byte{byte(nt.Op)})
	h.Write([]byte(nt.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(nt.TriggerID))
	return hex.EncodeToString(h.Sum(nil))
}

// sampleEntryKey derives the data-bus entry key. Unlike triggerEntryKey,
// callers include a per-publish nonce in the encoded bytes (see
// publishSample) so that two identical samples from the same node are not
// treated as the same idempotent entry — samples are not operations that
// should collapse on retry the way identical trigger mutations do.
func sampleEntryKey(encoded []byte) string {
	sum := blake2b.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
