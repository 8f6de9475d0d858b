package types

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/avm/vm/vmtypes"
)

// CallResult is the record a contract leaves at the result address:
//
//	success u8 | error_code u32 LE | data_len u32 LE | data [256]
type CallResult struct {
	Success   bool          `json:"success"`
	ErrorCode uint32        `json:"error_code"`
	Data      hexutil.Bytes `json:"data"`
}

func SuccessResult(data []byte) CallResult {
	return CallResult{Success: true, Data: capData(data)}
}

// FailureResult builds a failed record. A zero code is reported as 1 so the
// record still reads as a failure.
func FailureResult(code uint32, data []byte) CallResult {
	if code == 0 {
		code = 1
	}
	return CallResult{ErrorCode: code, Data: capData(data)}
}

func capData(data []byte) hexutil.Bytes {
	if len(data) > vmtypes.ResultDataCap {
		data = data[:vmtypes.ResultDataCap]
	}
	return append(hexutil.Bytes{}, data...)
}

// IsFailure reports whether the record signals a failed call. A zeroed
// record, left by a context that never wrote one, is a failure with code 0.
func (r CallResult) IsFailure() bool {
	return !r.Success
}

// Encode lays the record out in its fixed 265-byte form.
func (r CallResult) Encode() []byte {
	out := make([]byte, vmtypes.ResultRecordSize)
	if r.Success {
		out[0] = 1
	}
	data := capData(r.Data)
	binary.LittleEndian.PutUint32(out[1:5], r.ErrorCode)
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(data)))
	copy(out[9:], data)
	return out
}

// DecodeCallResult parses a record; data_len beyond 256 is clamped.
func DecodeCallResult(b []byte) (CallResult, error) {
	if len(b) < vmtypes.ResultRecordSize {
		return CallResult{}, fmt.Errorf("result record is %d bytes, want %d", len(b), vmtypes.ResultRecordSize)
	}
	n := min(binary.LittleEndian.Uint32(b[5:9]), vmtypes.ResultDataCap)
	return CallResult{
		Success:   b[0] != 0,
		ErrorCode: binary.LittleEndian.Uint32(b[1:5]),
		Data:      append(hexutil.Bytes{}, b[9:9+n]...),
	}, nil
}
