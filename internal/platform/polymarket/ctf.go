package polymarket

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ConditionID computes the on-chain conditional token framework condition ID
// for a question: keccak256(oracle ++ questionID ++ outcomeSlotCount), with
// the slot count encoded as a 32-byte big-endian integer. It lets group sync
// verify that a Gamma market's condition_id matches its question_id instead
// of trusting the API blindly.
func ConditionID(oracle string, questionID string, outcomeSlotCount uint) (string, error) {
	if !common.IsHexAddress(oracle) {
		return "", fmt.Errorf("polymarket: invalid oracle address %q", oracle)
	}
	qid := common.FromHex(questionID)
	if len(qid) != common.HashLength {
		return "", fmt.Errorf("polymarket: question ID must be 32 bytes, got %d", len(qid))
	}
	if outcomeSlotCount == 0 {
		return "", fmt.Errorf("polymarket: outcome slot count must be positive")
	}

	var slots [32]byte
	new(big.Int).SetUint64(uint64(outcomeSlotCount)).FillBytes(slots[:])

	h := crypto.Keccak256Hash(common.HexToAddress(oracle).Bytes(), qid, slots[:])
	return h.Hex(), nil
}

// VerifyConditionID recomputes the condition ID for a market's question and
// reports whether it matches the market's advertised condition_id. Binary
// markets have two outcome slots.
func VerifyConditionID(oracle string, m *APIMarket) (bool, error) {
	if m.QuestionID == "" || m.ConditionID == "" {
		return false, fmt.Errorf("polymarket: market %s has no question/condition ID", m.ID)
	}
	got, err := ConditionID(oracle, m.QuestionID, 2)
	if err != nil {
		return false, err
	}
	return common.HexToHash(m.ConditionID) == common.HexToHash(got), nil
}
