package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/avm/common"
)

type TxType uint8

const (
	TxTransfer      TxType = 0
	TxCreateAccount TxType = 1
	TxProgramCall   TxType = 2
)

func (t TxType) String() string {
	switch t {
	case TxTransfer:
		return "transfer"
	case TxCreateAccount:
		return "create"
	case TxProgramCall:
		return "call"
	}
	return fmt.Sprintf("TxType(%d)", uint8(t))
}

// Transaction is one state transition submitted to the AVM. For
// TxCreateAccount, Data carries the contract image; for TxProgramCall it is
// the call input.
type Transaction struct {
	Type  TxType         `json:"type"`
	To    common.Address `json:"to"`
	From  common.Address `json:"from"`
	Data  hexutil.Bytes  `json:"data"`
	Value uint64         `json:"value"`
	Nonce uint64         `json:"nonce"`
	// Gas is the limit for TxProgramCall; 0 selects the runner default.
	Gas uint64 `json:"gas,omitempty"`
}

// Receipt is the outcome of RunTx.
type Receipt struct {
	Tx      Transaction `json:"tx"`
	Status  Status      `json:"status"`
	Result  CallResult  `json:"result"`
	Events  []Event     `json:"events"`
	GasUsed uint64      `json:"gas_used"`
	Error   string      `json:"error,omitempty"`
}

var errShortBundle = errors.New("transaction bundle truncated")

// EncodeBundle flattens txs as
//
//	count u32 | { type u8 | to[20] | from[20] | data_len u32 | data | value u64 | nonce u64 }*
//
// all little endian.
func EncodeBundle(txs []Transaction) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(txs)))
	for _, tx := range txs {
		out = append(out, byte(tx.Type))
		out = append(out, tx.To.Bytes()...)
		out = append(out, tx.From.Bytes()...)
		out = binary.LittleEndian.AppendUint32(out, uint32(len(tx.Data)))
		out = append(out, tx.Data...)
		out = binary.LittleEndian.AppendUint64(out, tx.Value)
		out = binary.LittleEndian.AppendUint64(out, tx.Nonce)
	}
	return out
}

type bundleReader struct {
	b   []byte
	off int
}

func (r *bundleReader) next(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.b) {
		return nil, errShortBundle
	}
	s := r.b[r.off : r.off+n]
	r.off += n
	return s, nil
}

// DecodeBundle parses the output of EncodeBundle.
func DecodeBundle(b []byte) ([]Transaction, error) {
	r := &bundleReader{b: b}
	hdr, err := r.next(4)
	if err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(hdr)
	// every transaction takes at least 61 bytes
	if uint64(count)*61 > uint64(len(b)) {
		return nil, errShortBundle
	}
	txs := make([]Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		var tx Transaction
		typ, err := r.next(1)
		if err != nil {
			return nil, err
		}
		tx.Type = TxType(typ[0])
		if tx.Type > TxProgramCall {
			return nil, fmt.Errorf("transaction %d: unknown type %d", i, typ[0])
		}
		to, err := r.next(common.AddressLength)
		if err != nil {
			return nil, err
		}
		from, err := r.next(common.AddressLength)
		if err != nil {
			return nil, err
		}
		tx.To, tx.From = common.BytesToAddress(to), common.BytesToAddress(from)
		l, err := r.next(4)
		if err != nil {
			return nil, err
		}
		data, err := r.next(int(binary.LittleEndian.Uint32(l)))
		if err != nil {
			return nil, err
		}
		tx.Data = append(hexutil.Bytes{}, data...)
		tail, err := r.next(16)
		if err != nil {
			return nil, err
		}
		tx.Value = binary.LittleEndian.Uint64(tail[:8])
		tx.Nonce = binary.LittleEndian.Uint64(tail[8:])
		txs = append(txs, tx)
	}
	if r.off != len(b) {
		return nil, fmt.Errorf("%d trailing bytes after transaction bundle", len(b)-r.off)
	}
	return txs, nil
}
