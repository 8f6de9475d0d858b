package types

import "fmt"

// Status is the outcome of an invocation or transaction.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusFailure        // contract reported failure (REVERT or a failed result record)
	StatusFault          // the VM halted the context
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusFault:
		return "fault"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "success":
		*s = StatusSuccess
	case "failure":
		*s = StatusFailure
	case "fault":
		*s = StatusFault
	default:
		return fmt.Errorf("unknown status %q", b)
	}
	return nil
}
