package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "ForgeLedger:genesis:v1"

// GenesisHash is the chain tip before the first command.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// StateHasher chains state digests: hash[N] = SHA-256(hash[N-1] || N || digest[N]).
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash()}
}

// Link computes the hash for sequence and advances the tip. It returns
// the previous tip with the new one.
func (h *StateHasher) Link(sequence int64, digest []byte) (prev, next [32]byte) {
	prev = h.tip
	next = ChainHash(prev, sequence, digest)
	h.tip = next
	return prev, next
}

// Tip returns the hash of the last linked command.
func (h *StateHasher) Tip() [32]byte {
	return h.tip
}

// Reset moves the tip, used when restoring from a snapshot.
func (h *StateHasher) Reset(tip [32]byte) {
	h.tip = tip
}

// ChainHash is the pure form of Link.
func ChainHash(prev [32]byte, sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(digest)

	var out [32]byte
	copy(out[:], hasher.Sum(nil))
	return out
}
