package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var recordEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: cbor encoding mode: %v", err))
	}
	recordEncMode = em
}

// encodeRecord encodes a record in deterministic CBOR.
func encodeRecord(r *Record) ([]byte, error) {
	return recordEncMode.Marshal(r)
}

// decodeRecord decodes a CBOR encoded record into out.
func decodeRecord(data []byte, out *Record) error {
	return cbor.Unmarshal(data, out)
}
