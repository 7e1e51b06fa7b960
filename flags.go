package molt

import "fmt"

// SIFlags are flags provided to a Send operation.
type SIFlags uint16

const (
	// SendDontWait requests a non-blocking send regardless of the
	// socket's own timeout setting.
	SendDontWait SIFlags = 1 << iota
)

func (flags SIFlags) Has(f SIFlags) bool { return (flags & f) == f }

func (flags SIFlags) String() string {
	switch flags {
	case 0:
		return "SIFlags(0)"
	case SendDontWait:
		return "SendDontWait"
	default:
		return fmt.Sprintf("SIFlags(%d)", flags)
	}
}

// RIFlags are flags provided to a Recv operation.
type RIFlags uint16

const (
	// RecvPeek returns the message without removing it from the socket's
	// receive queue.
	RecvPeek RIFlags = 1 << iota

	// RecvWaitAll blocks, on stream sockets, until the full buffer can be
	// filled.
	RecvWaitAll

	// RecvDontWait requests a non-blocking receive regardless of the
	// socket's own timeout setting.
	RecvDontWait
)

func (flags RIFlags) Has(f RIFlags) bool { return (flags & f) == f }

var riflagsStrings = [...]string{"RecvPeek", "RecvWaitAll", "RecvDontWait"}

func (flags RIFlags) String() (s string) {
	if flags == 0 {
		return "RIFlags(0)"
	}
	for i, name := range riflagsStrings {
		if !flags.Has(1 << i) {
			continue
		}
		if len(s) > 0 {
			s += "|"
		}
		s += name
	}
	if len(s) == 0 {
		return fmt.Sprintf("RIFlags(%d)", flags)
	}
	return
}

// ROFlags are flags returned by a Recv operation.
type ROFlags uint16

const (
	// RecvDataTruncated indicates the datagram was larger than the
	// supplied buffer.
	RecvDataTruncated ROFlags = 1 << iota
)

func (flags ROFlags) Has(f ROFlags) bool { return (flags & f) == f }

func (flags ROFlags) String() string {
	switch flags {
	case RecvDataTruncated:
		return "RecvDataTruncated"
	default:
		return fmt.Sprintf("ROFlags(%d)", flags)
	}
}

// SDFlags select which half of a connection Shutdown closes.
type SDFlags uint16

const (
	ShutdownRD SDFlags = 1 << iota
	ShutdownWR
)

func (flags SDFlags) Has(f SDFlags) bool { return (flags & f) == f }

var sdflagsStrings = [...]string{"ShutdownRD", "ShutdownWR"}

func (flags SDFlags) String() (s string) {
	if flags == 0 {
		return "SDFlags(0)"
	}
	for i, name := range sdflagsStrings {
		if !flags.Has(1 << i) {
			continue
		}
		if len(s) > 0 {
			s += "|"
		}
		s += name
	}
	if len(s) == 0 {
		return fmt.Sprintf("SDFlags(%d)", flags)
	}
	return
}
