package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "DexLedger:genesis:v1"

// StateHasher chains commit hashes so two replays of the same log can be compared by tip.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// ComputeHash calculates hash[N] = SHA-256(prev_hash || block || log_index || state_digest)
// and advances the chain.
func (h *StateHasher) ComputeHash(block uint64, logIndex uint, stateDigest [32]byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], block)
	hasher.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(logIndex))
	hasher.Write(buf[:])

	hasher.Write(stateDigest[:])

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}
