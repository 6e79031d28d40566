// Package protocol implements the DSU wire codec: one JSON document per
// request or response. The codec is pure; framing and I/O live in the
// transport package.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
)

var (
	ErrEncode = errors.New("protocol encode error")
	ErrDecode = errors.New("protocol decode error")
)

// Terminator ends every document on the wire. Encode never appends it.
const Terminator = "\r\n"

// Token is the opaque session capability issued by a successful join.
type Token string

// Kind is the top-level key naming a request.
type Kind string

const (
	KindJoin          Kind = "join"
	KindPost          Kind = "post"
	KindBio           Kind = "bio"
	KindDirectMessage Kind = "directmessage"
)

// ListMode selects which direct messages a list request returns.
type ListMode string

const (
	ListNew ListMode = "new"
	ListAll ListMode = "all"
)

// Status is the response discriminator.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ServerError carries the text of an error-status response. It is what the
// server said, not a transport or codec failure.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// marshal encodes v without HTML escaping and without the trailing newline
// json.Encoder adds.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
