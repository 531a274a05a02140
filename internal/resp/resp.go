package resp

import "fmt"

// Kind identifies the variant of a Reply. The values are the wire type
// markers, which makes encode/decode switches line up with the protocol.
type Kind byte

const (
	KindStatus  Kind = '+'
	KindError   Kind = '-'
	KindInteger Kind = ':'
	KindBulk    Kind = '$'
	KindArray   Kind = '*'
)

// Protocol limits. A peer announcing a length beyond these is treated as
// malformed rather than trusted with the allocation.
const (
	// MaxBulkLen caps a single bulk payload at 512 MiB.
	MaxBulkLen = 512 << 20

	// MaxArrayLen caps the element count of a request or array reply.
	MaxArrayLen = 1 << 20

	// maxReplyDepth caps array nesting in backend replies.
	maxReplyDepth = 32
)

// Reply is one decoded protocol reply. Only the field matching Kind is
// meaningful: Str for status and error lines, Int for integers, Bulk for bulk
// strings (nil is the null bulk, distinct from an empty one), and Elems for
// arrays (nil is the null array).
type Reply struct {
	Str   string
	Bulk  []byte
	Elems []Reply
	Int   int64
	Kind  Kind
}

// Status returns a simple status reply such as +OK.
func Status(s string) Reply { return Reply{Kind: KindStatus, Str: s} }

// Error returns an error reply. The message should carry its conventional
// prefix, e.g. "ERR unknown command".
func Error(msg string) Reply { return Reply{Kind: KindError, Str: msg} }

// Errorf returns an error reply with a formatted message.
func Errorf(format string, args ...any) Reply {
	return Reply{Kind: KindError, Str: fmt.Sprintf(format, args...)}
}

// Int returns an integer reply.
func Int(n int64) Reply { return Reply{Kind: KindInteger, Int: n} }

// Bulk returns a bulk reply holding data. A nil slice encodes as the null
// bulk; use NullBulk to make that explicit at call sites.
func Bulk(data []byte) Reply { return Reply{Kind: KindBulk, Bulk: data} }

// BulkString returns a bulk reply holding s.
func BulkString(s string) Reply { return Reply{Kind: KindBulk, Bulk: []byte(s)} }

// NullBulk returns the null bulk reply ($-1), reported to clients when a key
// is absent.
func NullBulk() Reply { return Reply{Kind: KindBulk} }

// Array returns an array reply of the given elements.
func Array(elems ...Reply) Reply {
	if elems == nil {
		elems = []Reply{}
	}
	return Reply{Kind: KindArray, Elems: elems}
}

// NullArray returns the null array reply (*-1).
func NullArray() Reply { return Reply{Kind: KindArray} }

// IsNull reports whether r is the null bulk or null array.
func (r Reply) IsNull() bool {
	switch r.Kind {
	case KindBulk:
		return r.Bulk == nil
	case KindArray:
		return r.Elems == nil
	}
	return false
}

// Command is one parsed client request: the command name followed by its
// arguments. Args elements are binary-safe and may be nil when the client
// sent a null bulk in that position.
type Command struct {
	Name string
	Args [][]byte
}

// NewCommand builds a command, chiefly for forwarding synthesized requests
// (for example per-key DEL fan-out) to a backend.
func NewCommand(name string, args ...[]byte) Command {
	return Command{Name: name, Args: args}
}

// ParseError reports malformed protocol input. Its message is a complete
// protocol error line (minus the leading marker), so a session can send it to
// the offending client verbatim and keep the connection open.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func parseError(msg string) *ParseError { return &ParseError{msg: msg} }

// Malformed-input messages, phrased the way the proxy has always reported
// them to clients.
const (
	errArgCountLine = "ERR *<number of arguments> CR LF is expected."
	errArgLenLine   = "ERR $<number of bytes of argument> CR LF is expected."
	errIntegerLine  = "ERR :<integer> CR LF is expected."
	errReplyMarker  = "ERR Reply type marker is expected."
	errReplyLenLine = "ERR <number of bytes or elements> CR LF is expected."
	errBulkTrailer  = "ERR Bulk terminator CR LF is expected."
	errReplyNesting = "ERR Reply nesting is too deep."
	errLineTooLong  = "ERR Line is too long."
)
