package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	qt "github.com/frankban/quicktest"
)

func TestHexBytes(t *testing.T) {
	c := qt.New(t)

	c.Run("String", func(c *qt.C) {
		c.Assert(HexBytes(nil).String(), qt.Equals, "0x")
		c.Assert(HexBytes{0x00, 0xab, 0xcd}.String(), qt.Equals, "0x00abcd")
	})

	c.Run("JSON", func(c *qt.C) {
		in := HexBytes{0xde, 0xad, 0xbe, 0xef}
		data, err := json.Marshal(in)
		c.Assert(err, qt.IsNil)
		c.Assert(string(data), qt.Equals, `"0xdeadbeef"`)

		var out HexBytes
		c.Assert(json.Unmarshal(data, &out), qt.IsNil)
		c.Assert(out.Equal(in), qt.IsTrue)

		c.Assert(json.Unmarshal([]byte(`"beef"`), &out), qt.IsNil)
		c.Assert(out, qt.DeepEquals, HexBytes{0xbe, 0xef})

		c.Assert(json.Unmarshal([]byte(`"0xzz"`), &out), qt.ErrorMatches, `invalid hex string .*`)
		c.Assert(json.Unmarshal([]byte(`12`), &out), qt.ErrorMatches, `invalid JSON string: .*`)
	})
}

func TestParseValue(t *testing.T) {
	c := qt.New(t)

	testCases := []struct {
		in   string
		want string
		err  string
	}{
		{in: "10201", want: "10201"},
		{in: " 12 ", want: "12"},
		{in: "0x27d9", want: "10201"},
		{in: "0x0001", want: "1"},
		{in: "115792089237316195423570985008687907853269984665640564039457584007913129639935", want: "115792089237316195423570985008687907853269984665640564039457584007913129639935"},
		{in: "115792089237316195423570985008687907853269984665640564039457584007913129639936", err: `.*does not fit in 256 bits`},
		{in: "-1", err: `negative value.*`},
		{in: "", err: `empty value`},
		{in: "odd", err: `invalid value.*`},
	}
	for _, tc := range testCases {
		c.Run(tc.in, func(c *qt.C) {
			v, err := ParseValue(tc.in)
			if tc.err != "" {
				c.Assert(err, qt.ErrorMatches, tc.err)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(v.Dec(), qt.Equals, tc.want)
		})
	}
}

func TestTxOutcomeFromReceipt(t *testing.T) {
	c := qt.New(t)

	r := &gtypes.Receipt{
		TxHash:      common.HexToHash("0x01"),
		BlockHash:   common.HexToHash("0x02"),
		BlockNumber: big.NewInt(42),
		GasUsed:     21000,
		Status:      gtypes.ReceiptStatusSuccessful,
	}
	out := TxOutcomeFromReceipt(r)
	c.Assert(out.BlockNumber, qt.Equals, uint64(42))
	c.Assert(out.TxHash, qt.Equals, r.TxHash)
	c.Assert(out.Succeeded(), qt.IsTrue)

	r.Status = gtypes.ReceiptStatusFailed
	c.Assert(TxOutcomeFromReceipt(r).Succeeded(), qt.IsFalse)

	var nilOutcome *TxOutcome
	c.Assert(nilOutcome.Succeeded(), qt.IsFalse)
}
