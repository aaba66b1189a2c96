package dkg

import "github.com/chaoschain/gateway/chain"

// MerkleRoot folds leaves pairwise with keccak256 until one hash remains.
// An odd leaf at the end of a level is promoted unchanged. No leaves yields
// the zero hash.
func MerkleRoot(leaves []chain.Hash) chain.Hash {
	if len(leaves) == 0 {
		return chain.ZeroHash
	}

	level := make([]chain.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]chain.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, chain.Keccak256(level[i][:], level[i+1][:]))
		}
		level = next
	}

	return level[0]
}
