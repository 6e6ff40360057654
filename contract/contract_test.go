package contract_test

import (
	"testing"

	"lukechampine.com/blake3"

	"github.com/tos-network/tosd/contract"
	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

func hashFromByte(b byte) *externalapi.DomainHash {
	var hash externalapi.DomainHash
	hash[0] = b
	return &hash
}

func TestInstantRandomIsDeterministic(t *testing.T) {
	blockHash := hashFromByte(0x01)
	txHash := hashFromByte(0x02)

	first := contract.InstantRandom(blockHash, 10, 1000, txHash)
	second := contract.InstantRandom(blockHash, 10, 1000, txHash)
	if !first.Equal(second) {
		t.Fatalf("InstantRandom is not deterministic: %s != %s", first, second)
	}
}

func TestInstantRandomVariesWithInputs(t *testing.T) {
	blockHash := hashFromByte(0x01)
	txHash := hashFromByte(0x02)

	base := contract.InstantRandom(blockHash, 10, 1000, txHash)

	cases := map[string]*externalapi.DomainHash{
		"height":    contract.InstantRandom(blockHash, 11, 1000, txHash),
		"timestamp": contract.InstantRandom(blockHash, 10, 1001, txHash),
		"txHash":    contract.InstantRandom(blockHash, 10, 1000, hashFromByte(0x03)),
		"blockHash": contract.InstantRandom(hashFromByte(0x04), 10, 1000, txHash),
	}
	for name, got := range cases {
		if base.Equal(got) {
			t.Fatalf("InstantRandom did not vary with %s", name)
		}
	}
}

func TestValidateVRFNilIsAccepted(t *testing.T) {
	if err := contract.ValidateVRF(nil, hashFromByte(0x01)); err != nil {
		t.Fatalf("ValidateVRF(nil): %+v", err)
	}
}

func TestValidateVRFRejectsWrongOutput(t *testing.T) {
	vrf := &contract.VRFData{
		MinerPublicKey: []byte{0xaa, 0xbb},
		Output:         []byte{0x00, 0x01, 0x02},
		Proof:          []byte{0xde, 0xad},
	}
	if err := contract.ValidateVRF(vrf, hashFromByte(0x01)); err != contract.ErrVrfValidationFailed {
		t.Fatalf("ValidateVRF: got %v, want ErrVrfValidationFailed", err)
	}
}

func TestValidateVRFAcceptsMatchingOutput(t *testing.T) {
	blockHash := hashFromByte(0x01)
	minerKey := []byte{0xaa, 0xbb, 0xcc}

	input := append([]byte("TOS-VRF-INPUT-v1"), blockHash.ByteSlice()...)
	input = append(input, minerKey...)
	expected := blake3.Sum256(input)

	vrf := &contract.VRFData{MinerPublicKey: minerKey, Output: expected[:]}
	if err := contract.ValidateVRF(vrf, blockHash); err != nil {
		t.Fatalf("ValidateVRF: %+v", err)
	}
}

func TestDeployContractRejectsEmptyBytecode(t *testing.T) {
	h := contract.New(nil, func() contract.BlockContext {
		return contract.BlockContext{BlockHash: hashFromByte(0x01)}
	})
	_, err := h.DeployContract(nil, hashFromByte(0x02), nil, nil, 0)
	if err != contract.ErrInvalidBytecode {
		t.Fatalf("DeployContract: got %v, want ErrInvalidBytecode", err)
	}
}

func TestDeployContractRejectsOverBudgetGasLimit(t *testing.T) {
	h := contract.New(nil, func() contract.BlockContext {
		return contract.BlockContext{BlockHash: hashFromByte(0x01)}
	})
	_, err := h.DeployContract(nil, hashFromByte(0x02), []byte{0x00, 0x61, 0x73, 0x6d}, nil, contract.MaxComputeBudget+1)
	if err != contract.ErrComputeBudgetExceeded {
		t.Fatalf("DeployContract: got %v, want ErrComputeBudgetExceeded", err)
	}
}

func TestDeployContractWithoutInvokeReturnsZeroGas(t *testing.T) {
	h := contract.New(nil, func() contract.BlockContext {
		return contract.BlockContext{BlockHash: hashFromByte(0x01)}
	})
	gasUsed, err := h.DeployContract(nil, hashFromByte(0x02), []byte{0x00, 0x61, 0x73, 0x6d}, nil, 0)
	if err != nil {
		t.Fatalf("DeployContract: %+v", err)
	}
	if gasUsed != 0 {
		t.Fatalf("gasUsed = %d, want 0", gasUsed)
	}
}
