package vault

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "BondVault:genesis:v1"

// StateHasher chains event digests into a tamper-evident log
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// GenesisHash is the chain tip before the first event
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || digest)
// and advances the chain tip.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hash := chainHash(h.prevHash, sequence, digest)
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip (used for snapshot restore)
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// VerifyLink checks that hash follows prev for the given sequence and digest
func VerifyLink(prev [32]byte, sequence int64, digest []byte, hash [32]byte) bool {
	return chainHash(prev, sequence, digest) == hash
}

func chainHash(prev [32]byte, sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}
