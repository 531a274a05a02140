package resp

import (
	"bufio"
	"io"
	"strconv"
)

// Reader decodes commands and replies from one connection. It owns its
// buffer, so each session (and each pooled backend connection) carries its
// own Reader and partial frames never leak between connections.
type Reader struct {
	br *bufio.Reader
}

// NewReader returns a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadCommand reads the next client request. Empty requests (*0 or a null
// array) carry no command and are skipped, mirroring how the proxy has
// always ignored them. Malformed input returns a *ParseError; any other
// error is a transport failure.
func (r *Reader) ReadCommand() (Command, error) {
	for {
		line, err := r.readLine(errArgCountLine)
		if err != nil {
			return Command{}, err
		}
		if len(line) == 0 || line[0] != '*' {
			return Command{}, parseError(errArgCountLine)
		}
		n, err := parseLen(line[1:], MaxArrayLen, errArgCountLine)
		if err != nil {
			return Command{}, err
		}
		if n <= 0 {
			// No request on the wire; wait for the next one.
			continue
		}

		args := make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			arg, err := r.readBulk(errArgLenLine)
			if err != nil {
				return Command{}, err
			}
			args = append(args, arg)
		}
		return Command{Name: string(args[0]), Args: args[1:]}, nil
	}
}

// ReadReply reads one backend reply, recursing into arrays.
func (r *Reader) ReadReply() (Reply, error) {
	return r.readReply(0)
}

func (r *Reader) readReply(depth int) (Reply, error) {
	if depth > maxReplyDepth {
		return Reply{}, parseError(errReplyNesting)
	}
	line, err := r.readLine(errReplyMarker)
	if err != nil {
		return Reply{}, err
	}
	if len(line) == 0 {
		return Reply{}, parseError(errReplyMarker)
	}

	switch line[0] {
	case '+':
		return Status(string(line[1:])), nil

	case '-':
		return Error(string(line[1:])), nil

	case ':':
		n, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil {
			return Reply{}, parseError(errIntegerLine)
		}
		return Int(n), nil

	case '$':
		n, err := parseLen(line[1:], MaxBulkLen, errReplyLenLine)
		if err != nil {
			return Reply{}, err
		}
		if n < 0 {
			return NullBulk(), nil
		}
		data, err := r.readPayload(n)
		if err != nil {
			return Reply{}, err
		}
		return Bulk(data), nil

	case '*':
		n, err := parseLen(line[1:], MaxArrayLen, errReplyLenLine)
		if err != nil {
			return Reply{}, err
		}
		if n < 0 {
			return NullArray(), nil
		}
		elems := make([]Reply, 0, n)
		for i := 0; i < n; i++ {
			elem, err := r.readReply(depth + 1)
			if err != nil {
				return Reply{}, err
			}
			elems = append(elems, elem)
		}
		return Reply{Kind: KindArray, Elems: elems}, nil

	default:
		return Reply{}, parseError(errReplyMarker)
	}
}

// readBulk reads one $-prefixed argument. A length of -1 yields a nil
// argument; anything below that, or beyond MaxBulkLen, is malformed.
func (r *Reader) readBulk(lenErr string) ([]byte, error) {
	line, err := r.readLine(lenErr)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '$' {
		return nil, parseError(lenErr)
	}
	n, err := parseLen(line[1:], MaxBulkLen, lenErr)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	return r.readPayload(n)
}

// readPayload reads n payload bytes plus the trailing CR LF.
func (r *Reader) readPayload(n int) ([]byte, error) {
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, parseError(errBulkTrailer)
	}
	return buf[:n:n], nil
}

// readLine reads through the next LF and strips the CR LF terminator. Lines
// here are headers (type marker plus length or text), never bulk payloads,
// so exceeding the buffer means the peer is not speaking the protocol.
func (r *Reader) readLine(errMsg string) ([]byte, error) {
	line, err := r.br.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return nil, parseError(errLineTooLong)
	}
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, parseError(errMsg)
	}
	// Copy out of the bufio-owned slice before the next read reuses it.
	out := make([]byte, len(line)-2)
	copy(out, line[:len(line)-2])
	return out, nil
}

// parseLen parses a decimal length header. -1 is the protocol's null marker
// and is passed through; anything else negative or above max is malformed.
func parseLen(digits []byte, max int, errMsg string) (int, error) {
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, parseError(errMsg)
	}
	if n < -1 || n > max {
		return 0, parseError(errMsg)
	}
	return n, nil
}
