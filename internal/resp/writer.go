package resp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Writer encodes replies and commands onto one connection. Output is
// buffered; call Flush after each exchange so pipelined peers see complete
// frames promptly.
type Writer struct {
	bw *bufio.Writer
}

// NewWriter returns a Writer encoding onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// WriteReply serializes any Reply variant. An uninitialized Kind is a
// programming error and is reported rather than silently written.
func (w *Writer) WriteReply(r Reply) error {
	switch r.Kind {
	case KindStatus:
		return w.writeLine('+', r.Str)

	case KindError:
		return w.writeLine('-', r.Str)

	case KindInteger:
		return w.writeLine(':', strconv.FormatInt(r.Int, 10))

	case KindBulk:
		return w.writeBulk(r.Bulk)

	case KindArray:
		if r.Elems == nil {
			return w.writeLine('*', "-1")
		}
		if err := w.writeLine('*', strconv.Itoa(len(r.Elems))); err != nil {
			return err
		}
		for _, elem := range r.Elems {
			if err := w.WriteReply(elem); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("resp: invalid reply kind %q", byte(r.Kind))
	}
}

// WriteCommand serializes c in canonical form: an array of bulk strings.
// Decoding a well-formed request and re-encoding it with WriteCommand
// reproduces the original bytes, which keeps forwarding transparent.
func (w *Writer) WriteCommand(c Command) error {
	if err := w.writeLine('*', strconv.Itoa(1+len(c.Args))); err != nil {
		return err
	}
	if err := w.writeBulk([]byte(c.Name)); err != nil {
		return err
	}
	for _, arg := range c.Args {
		if err := w.writeBulk(arg); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered output to the connection.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

func (w *Writer) writeBulk(data []byte) error {
	if data == nil {
		return w.writeLine('$', "-1")
	}
	if err := w.writeLine('$', strconv.Itoa(len(data))); err != nil {
		return err
	}
	if _, err := w.bw.Write(data); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *Writer) writeLine(marker byte, s string) error {
	if err := w.bw.WriteByte(marker); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(s); err != nil {
		return err
	}
	return w.writeCRLF()
}

func (w *Writer) writeCRLF() error {
	_, err := w.bw.WriteString("\r\n")
	return err
}
