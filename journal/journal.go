// Package journal decodes the public output committed by a proved program.
package journal

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/vocdoni/davinci-publisher/codec"
	"github.com/vocdoni/davinci-publisher/prover"
)

// ErrJournalDecode is returned when a journal is not the strict encoding of a
// single uint256.
var ErrJournalDecode = errors.New("journal decode failed")

// Decode returns the value committed in the receipt journal. Absent,
// truncated, oversized and non-canonical journals are rejected.
func Decode(r *prover.Receipt) (*uint256.Int, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil receipt", ErrJournalDecode)
	}
	return DecodeBytes(r.Journal)
}

// DecodeBytes decodes a raw journal.
func DecodeBytes(journal []byte) (*uint256.Int, error) {
	if len(journal) == 0 {
		return nil, fmt.Errorf("%w: empty journal", ErrJournalDecode)
	}
	v, err := codec.Decode(journal)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJournalDecode, err)
	}
	return v, nil
}
