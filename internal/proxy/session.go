package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/dreamware/shardis/internal/resp"
)

// session serves one client connection. Each session owns its reader,
// writer and auth state, so clients never share decode buffers and a
// failure here is contained to this connection.
type session struct {
	conn   net.Conn
	r      *resp.Reader
	w      *resp.Writer
	d      *Dispatcher
	log    *slog.Logger
	authed bool
}

func newSession(conn net.Conn, d *Dispatcher, log *slog.Logger) *session {
	return &session{
		conn: conn,
		r:    resp.NewReader(conn),
		w:    resp.NewWriter(conn),
		d:    d,
		log:  log,
	}
}

// serve runs the request loop: read a command, dispatch it, flush the
// reply. Malformed requests get an error reply and the loop continues.
// Transport errors end the session; only this connection is affected.
func (s *session) serve() {
	defer func() {
		s.conn.Close()
		s.log.Info("connection closed")
	}()

	for {
		cmd, err := s.r.ReadCommand()
		if err != nil {
			var perr *resp.ParseError
			if errors.As(err, &perr) {
				if s.reply(resp.Error(perr.Error())) != nil {
					return
				}
				continue
			}
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("read failed", "error", err)
			}
			return
		}

		reply, quit := s.d.Dispatch(s, cmd)
		if err := s.reply(reply); err != nil {
			s.log.Debug("write failed", "error", err)
			return
		}
		if quit {
			return
		}
	}
}

// reply writes and flushes one reply so the client sees it immediately.
func (s *session) reply(r resp.Reply) error {
	if err := s.w.WriteReply(r); err != nil {
		return err
	}
	return s.w.Flush()
}
