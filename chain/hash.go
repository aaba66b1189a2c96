package chain

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// ZeroHash is the root of an empty merkle tree.
var ZeroHash Hash

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// ScoreCommitment returns keccak256(abi.encodePacked(uint256(s0), ...,
// uint256(sn), salt, dataHash)), the value a validator commits before
// revealing scores.
func ScoreCommitment(scores []uint16, salt, dataHash Hash) Hash {
	buf := make([]byte, 0, 32*len(scores)+64)
	for _, s := range scores {
		var word [32]byte
		new(big.Int).SetUint64(uint64(s)).FillBytes(word[:])
		buf = append(buf, word[:]...)
	}
	buf = append(buf, salt[:]...)
	buf = append(buf, dataHash[:]...)
	return Keccak256(buf)
}

// RandomSalt returns 32 cryptographically random bytes.
func RandomSalt() (Hash, error) {
	var s Hash
	if _, err := rand.Read(s[:]); err != nil {
		return Hash{}, fmt.Errorf("chain: generate salt: %w", err)
	}
	return s, nil
}
