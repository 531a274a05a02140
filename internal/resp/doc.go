// Package resp implements the unified request protocol spoken on both sides
// of the proxy: by clients sending commands to shardis, and by shardis
// forwarding those commands to backend store instances.
//
// # Overview
//
// The protocol is binary-safe and length-prefixed. A request is an array of
// bulk byte-strings (command name followed by its arguments), and a reply is
// one of five variants distinguished by a leading type marker:
//
//	+OK\r\n                 simple status
//	-ERR message\r\n        error
//	:42\r\n                 integer
//	$5\r\nhello\r\n         bulk byte-string ($-1\r\n for the null bulk)
//	*2\r\n...\r\n           array of replies (*-1\r\n for the null array)
//
// Because bulk payloads are length-prefixed rather than delimiter-terminated,
// values containing CR, LF or NUL bytes round-trip losslessly.
//
// # Components
//
// Reader decodes one side of a connection:
//   - ReadCommand parses inbound client requests. It blocks only on its own
//     underlying reader, so a command split across several socket reads is
//     simply resumed as bytes arrive; no other session is ever stalled.
//   - ReadReply parses a backend's answer to a forwarded command, including
//     nested arrays.
//
// Writer encodes the opposite direction: WriteReply serializes any Reply
// variant, WriteCommand serializes a Command in canonical form. Output is
// buffered; callers flush once per request/reply exchange.
//
// # Error handling
//
// Malformed input (an unexpected type marker, a bad length, a missing CR LF
// terminator) yields a *ParseError whose message is already a
// protocol-compliant error line. Session handlers report it to the client and
// keep the connection open. Any other error comes from the underlying
// transport and means the connection is no longer usable.
package resp
