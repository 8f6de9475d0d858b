package trace

import "github.com/colorfulnotion/avm/common"

// TraceStep is one executed instruction of one execution context.
type TraceStep struct {
	Depth     int    `json:"depth"`
	Step      uint64 `json:"step"`
	PC        uint32 `json:"pc"`
	Raw       uint32 `json:"raw"`
	Mnemonic  string `json:"mnemonic"`
	GasBefore uint64 `json:"gasBefore"`
	GasAfter  uint64 `json:"gasAfter"`

	ChangedRegister     *uint8  `json:"changedRegister,omitempty"`
	ChangedValue        *uint32 `json:"changedValue,omitempty"`
	ChangedMemoryAddr   *uint32 `json:"changedMemoryAddr,omitempty"`
	ChangedMemoryLength *uint32 `json:"changedMemoryLength,omitempty"`
	ChangedMemoryBytes  []byte  `json:"changedMemoryBytes,omitempty"` // if more than 32 bytes changed -> store the hash of the bytes
	Syscall             *uint32 `json:"syscall,omitempty"`
	PostMachineState    *string `json:"postMachineState,omitempty"`
	PostFaultAddress    *uint32 `json:"postFaultAddress,omitempty"`
}

func (ts *TraceStep) SetChangedRegister(reg uint8, value uint32) {
	ts.ChangedRegister = &reg
	ts.ChangedValue = &value
}

func (ts *TraceStep) SetChangedMemory(addr uint32, bytes []byte) {
	length := uint32(len(bytes))
	ts.ChangedMemoryAddr = &addr
	ts.ChangedMemoryLength = &length
	ts.ChangedMemoryBytes = nil
	if len(bytes) > 32 {
		ts.ChangedMemoryBytes = common.Blake2Hash(bytes).Bytes()
	} else if len(bytes) > 0 {
		ts.ChangedMemoryBytes = append([]byte(nil), bytes...)
	}
}

func (ts *TraceStep) SetSyscall(id uint32) {
	ts.Syscall = &id
}

func (ts *TraceStep) SetPostMachineState(state string) {
	ts.PostMachineState = &state
}

func (ts *TraceStep) SetPostFaultAddress(addr uint32) {
	ts.PostFaultAddress = &addr
}

// Sink receives every executed step.
type Sink interface {
	Record(step *TraceStep)
}

// Recorder keeps steps in memory and optionally streams them to a JSONL writer.
// The first write error is kept and later writes are skipped.
type Recorder struct {
	Steps  []TraceStep
	Writer *JSONLTraceWriter
	Keep   bool
	err    error
}

func NewRecorder(keep bool, w *JSONLTraceWriter) *Recorder {
	return &Recorder{Keep: keep, Writer: w}
}

func (r *Recorder) Record(step *TraceStep) {
	if r.Keep {
		r.Steps = append(r.Steps, *step)
	}
	if r.Writer != nil && r.err == nil {
		r.err = r.Writer.WriteStep(step)
	}
}

// Err returns the first error hit while streaming steps.
func (r *Recorder) Err() error { return r.err }
