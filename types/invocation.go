package types

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/colorfulnotion/avm/avmerrors"
	"github.com/colorfulnotion/avm/vm/trace"
)

// Invocation is what a top-level call returns.
type Invocation struct {
	Status  Status            `json:"status"`
	Fault   *avmerrors.Fault  `json:"-"`
	Error   string            `json:"fault,omitempty"`
	Result  CallResult        `json:"result"`
	Output  hexutil.Bytes     `json:"output"`
	GasUsed uint64            `json:"gas_used"`
	Events  []Event           `json:"events"`
	Trace   []trace.TraceStep `json:"trace,omitempty"`
}

// SetFault records f and clears any output.
func (inv *Invocation) SetFault(f *avmerrors.Fault) {
	inv.Status = StatusFault
	inv.Fault = f
	inv.Error = avmerrors.GetErrorCodeWithName(f.Kind)
	inv.Result = FailureResult(f.Code(), nil)
	inv.Output = hexutil.Bytes{}
}
