// Package solidity converts gnark Groth16 proofs over BN254 to and from the
// uint256[8] layout consumed by Solidity verifiers.
package solidity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ProofSize is the size of an ABI encoded uint256[8] proof.
const ProofSize = 8 * 32

// ErrInvalidProof is returned when bytes or points do not form a valid proof.
var ErrInvalidProof = errors.New("invalid solidity proof")

var proofArgs abi.Arguments

func init() {
	typ, err := abi.NewType("uint256[8]", "", nil)
	if err != nil {
		panic(fmt.Sprintf("solidity: cannot build uint256[8] abi type: %v", err))
	}
	proofArgs = abi.Arguments{{Type: typ}}
}

// Groth16Proof is a Groth16 proof in Solidity order (without commitments).
// G2 coordinates are stored as (A1, A0), as the EVM pairing precompile
// expects.
type Groth16Proof struct {
	Ar  [2]*big.Int    `json:"Ar"`
	Bs  [2][2]*big.Int `json:"Bs"`
	Krs [2]*big.Int    `json:"Krs"`
}

// FromGnarkProof converts a gnark groth16 proof to the Solidity layout.
// Proofs carrying commitments are rejected since the layout has no room for
// them.
func (p *Groth16Proof) FromGnarkProof(proof groth16.Proof) error {
	g16proof, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return fmt.Errorf("expected groth16_bn254.Proof, got %T", proof)
	}
	if len(g16proof.Commitments) > 0 {
		return fmt.Errorf("%w: proofs with commitments are not supported", ErrInvalidProof)
	}
	p.Ar = [2]*big.Int{
		g16proof.Ar.X.BigInt(new(big.Int)),
		g16proof.Ar.Y.BigInt(new(big.Int)),
	}
	p.Bs = [2][2]*big.Int{
		{
			g16proof.Bs.X.A1.BigInt(new(big.Int)),
			g16proof.Bs.X.A0.BigInt(new(big.Int)),
		},
		{
			g16proof.Bs.Y.A1.BigInt(new(big.Int)),
			g16proof.Bs.Y.A0.BigInt(new(big.Int)),
		},
	}
	p.Krs = [2]*big.Int{
		g16proof.Krs.X.BigInt(new(big.Int)),
		g16proof.Krs.Y.BigInt(new(big.Int)),
	}
	return nil
}

// ToGnarkProof rebuilds the gnark proof, checking that every point is on its
// curve and in the right subgroup.
func (p *Groth16Proof) ToGnarkProof() (groth16.Proof, error) {
	for _, v := range p.words() {
		if v == nil {
			return nil, fmt.Errorf("%w: missing coordinate", ErrInvalidProof)
		}
	}
	proof := new(groth16_bn254.Proof)
	proof.Ar.X.SetBigInt(p.Ar[0])
	proof.Ar.Y.SetBigInt(p.Ar[1])
	proof.Bs.X.A1.SetBigInt(p.Bs[0][0])
	proof.Bs.X.A0.SetBigInt(p.Bs[0][1])
	proof.Bs.Y.A1.SetBigInt(p.Bs[1][0])
	proof.Bs.Y.A0.SetBigInt(p.Bs[1][1])
	proof.Krs.X.SetBigInt(p.Krs[0])
	proof.Krs.Y.SetBigInt(p.Krs[1])

	if !proof.Ar.IsInSubGroup() || !proof.Krs.IsInSubGroup() {
		return nil, fmt.Errorf("%w: G1 point not in subgroup", ErrInvalidProof)
	}
	if !proof.Bs.IsInSubGroup() {
		return nil, fmt.Errorf("%w: G2 point not in subgroup", ErrInvalidProof)
	}
	return proof, nil
}

func (p *Groth16Proof) words() [8]*big.Int {
	return [8]*big.Int{
		p.Ar[0],
		p.Ar[1],
		p.Bs[0][0],
		p.Bs[0][1],
		p.Bs[1][0],
		p.Bs[1][1],
		p.Krs[0],
		p.Krs[1],
	}
}

// ABIEncode encodes the proof as Solidity's uint256[8].
func (p *Groth16Proof) ABIEncode() ([]byte, error) {
	return proofArgs.Pack(p.words())
}

// ABIDecode is the inverse of ABIEncode. The input must be exactly ProofSize
// bytes.
func (p *Groth16Proof) ABIDecode(data []byte) error {
	if len(data) != ProofSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidProof, ProofSize, len(data))
	}
	values, err := proofArgs.Unpack(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	words, ok := values[0].([8]*big.Int)
	if !ok {
		return fmt.Errorf("%w: unexpected abi value %T", ErrInvalidProof, values[0])
	}
	p.Ar = [2]*big.Int{words[0], words[1]}
	p.Bs = [2][2]*big.Int{{words[2], words[3]}, {words[4], words[5]}}
	p.Krs = [2]*big.Int{words[6], words[7]}
	return nil
}

// String returns a JSON representation of the proof, or "{}" if it cannot be
// marshalled.
func (p *Groth16Proof) String() string {
	jsonProof, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(jsonProof)
}
