package types

import (
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
)

// TxOutcome is the chain's verdict on a submitted transaction, built once the
// transaction is included in a block.
type TxOutcome struct {
	TxHash      common.Hash `json:"txHash" cbor:"0,keyasint"`
	BlockNumber uint64      `json:"blockNumber" cbor:"1,keyasint"`
	BlockHash   common.Hash `json:"blockHash" cbor:"2,keyasint"`
	GasUsed     uint64      `json:"gasUsed" cbor:"3,keyasint"`
	Status      uint64      `json:"status" cbor:"4,keyasint"`
}

// Succeeded reports whether the transaction executed without reverting.
func (o *TxOutcome) Succeeded() bool {
	return o != nil && o.Status == gtypes.ReceiptStatusSuccessful
}

// TxOutcomeFromReceipt converts a go-ethereum receipt into a TxOutcome.
func TxOutcomeFromReceipt(r *gtypes.Receipt) *TxOutcome {
	out := &TxOutcome{
		TxHash:    r.TxHash,
		BlockHash: r.BlockHash,
		GasUsed:   r.GasUsed,
		Status:    r.Status,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
