package evm

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var (
	//go:embed abi/studio.json
	studioABIJSON []byte

	//go:embed abi/rewards.json
	rewardsABIJSON []byte
)

// Contracts holds the parsed ABIs of the studio proxy (one deployment per
// studio, addressed by the studio address) and the shared rewards
// distributor.
type Contracts struct {
	Studio  abi.ABI
	Rewards abi.ABI
}

// DefaultContracts parses the ABIs bundled with the package.
func DefaultContracts() (*Contracts, error) {
	return ParseContracts(studioABIJSON, rewardsABIJSON)
}

// ParseContracts parses studio and rewards ABI JSON documents.
func ParseContracts(studioJSON, rewardsJSON []byte) (*Contracts, error) {
	studio, err := abi.JSON(bytes.NewReader(studioJSON))
	if err != nil {
		return nil, fmt.Errorf("evm: parse studio abi: %w", err)
	}
	rewards, err := abi.JSON(bytes.NewReader(rewardsJSON))
	if err != nil {
		return nil, fmt.Errorf("evm: parse rewards abi: %w", err)
	}
	c := &Contracts{Studio: studio, Rewards: rewards}
	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadContracts reads ABI files from disk. An empty path keeps the bundled
// ABI for that contract.
func LoadContracts(studioPath, rewardsPath string) (*Contracts, error) {
	studioJSON, rewardsJSON := studioABIJSON, rewardsABIJSON
	var err error
	if studioPath != "" {
		if studioJSON, err = os.ReadFile(studioPath); err != nil {
			return nil, fmt.Errorf("evm: read studio abi: %w", err)
		}
	}
	if rewardsPath != "" {
		if rewardsJSON, err = os.ReadFile(rewardsPath); err != nil {
			return nil, fmt.Errorf("evm: read rewards abi: %w", err)
		}
	}
	return ParseContracts(studioJSON, rewardsJSON)
}

var (
	studioMethods = []string{
		"submitWork", "commitScoreVector", "revealScoreVector", "submitScoreVectorForWorker",
		"getWorkSubmitter", "getScoreCommitment", "hasRevealed", "hasScoredWorker", "isRevealPhase",
	}
	rewardsMethods = []string{
		"registerWork", "registerValidator", "closeEpoch",
		"isWorkRegistered", "isValidatorRegistered", "epochStatus",
	}
)

func (c *Contracts) check() error {
	for _, m := range studioMethods {
		if _, ok := c.Studio.Methods[m]; !ok {
			return fmt.Errorf("evm: studio abi lacks method %s", m)
		}
	}
	for _, m := range rewardsMethods {
		if _, ok := c.Rewards.Methods[m]; !ok {
			return fmt.Errorf("evm: rewards abi lacks method %s", m)
		}
	}
	return nil
}
