package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Request is one of Join, Post, Bio, DirectMessageSend or DirectMessageList.
type Request interface {
	Kind() Kind
	isRequest()
}

// Join authenticates a username/password pair. The relay creates the
// account on first join.
type Join struct {
	Username string
	Password string
}

// Post publishes a journal entry.
type Post struct {
	Token     Token
	Entry     string
	Timestamp float64
}

// Bio replaces the account bio.
type Bio struct {
	Token     Token
	Entry     string
	Timestamp float64
}

type DirectMessageSend struct {
	Token     Token
	Entry     string
	Recipient string
	Timestamp float64
}

type DirectMessageList struct {
	Token Token
	Mode  ListMode
}

func (Join) Kind() Kind              { return KindJoin }
func (Post) Kind() Kind              { return KindPost }
func (Bio) Kind() Kind               { return KindBio }
func (DirectMessageSend) Kind() Kind { return KindDirectMessage }
func (DirectMessageList) Kind() Kind { return KindDirectMessage }

func (Join) isRequest()              {}
func (Post) isRequest()              {}
func (Bio) isRequest()               {}
func (DirectMessageSend) isRequest() {}
func (DirectMessageList) isRequest() {}

type joinBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    Token  `json:"token"`
}

type joinEnvelope struct {
	Join joinBody `json:"join"`
}

type entryBody struct {
	Entry     string  `json:"entry"`
	Timestamp float64 `json:"timestamp"`
}

type postEnvelope struct {
	Token Token      `json:"token"`
	Post  *entryBody `json:"post,omitempty"`
	Bio   *entryBody `json:"bio,omitempty"`
}

type sendBody struct {
	Entry     string  `json:"entry"`
	Recipient string  `json:"recipient"`
	Timestamp float64 `json:"timestamp"`
}

type sendEnvelope struct {
	Token         Token    `json:"token"`
	DirectMessage sendBody `json:"directmessage"`
}

type listEnvelope struct {
	Token         Token    `json:"token"`
	DirectMessage ListMode `json:"directmessage"`
}

// validate checks the required fields of each request variant.
func validate(req Request) error {
	switch r := req.(type) {
	case Join:
		if r.Username == "" || r.Password == "" {
			return errors.New("join requires username and password")
		}
	case Post:
		if r.Token == "" || r.Entry == "" {
			return errors.New("post requires token and entry")
		}
	case Bio:
		if r.Token == "" || r.Entry == "" {
			return errors.New("bio requires token and entry")
		}
	case DirectMessageSend:
		if r.Token == "" || r.Entry == "" {
			return errors.New("direct message requires token and entry")
		}
		if r.Recipient == "" {
			return errors.New("direct message requires a recipient")
		}
	case DirectMessageList:
		if r.Token == "" {
			return errors.New("direct message list requires token")
		}
		if r.Mode != ListNew && r.Mode != ListAll {
			return fmt.Errorf("unknown list mode %q", r.Mode)
		}
	case nil:
		return errors.New("nil request")
	default:
		return fmt.Errorf("unknown request kind %T", req)
	}
	return nil
}

// Encode returns the JSON document for req, without the wire terminator.
func Encode(req Request) ([]byte, error) {
	if err := validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	var v any
	switch r := req.(type) {
	case Join:
		v = joinEnvelope{Join: joinBody{Username: r.Username, Password: r.Password}}
	case Post:
		v = postEnvelope{Token: r.Token, Post: &entryBody{Entry: r.Entry, Timestamp: r.Timestamp}}
	case Bio:
		v = postEnvelope{Token: r.Token, Bio: &entryBody{Entry: r.Entry, Timestamp: r.Timestamp}}
	case DirectMessageSend:
		v = sendEnvelope{Token: r.Token, DirectMessage: sendBody{
			Entry:     r.Entry,
			Recipient: r.Recipient,
			Timestamp: r.Timestamp,
		}}
	case DirectMessageList:
		v = listEnvelope{Token: r.Token, DirectMessage: r.Mode}
	}

	data, err := marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// DecodeRequest parses a request document. It is the inverse of Encode and
// applies the same field requirements.
func DecodeRequest(data []byte) (Request, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	req, err := requestFromDoc(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := validate(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return req, nil
}

func requestFromDoc(doc map[string]json.RawMessage) (Request, error) {
	if raw, ok := doc[string(KindJoin)]; ok {
		var body joinBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("join: %v", err)
		}
		return Join{Username: body.Username, Password: body.Password}, nil
	}

	var token Token
	if raw, ok := doc["token"]; ok {
		if err := json.Unmarshal(raw, &token); err != nil {
			return nil, fmt.Errorf("token: %v", err)
		}
	}

	for _, kind := range []Kind{KindPost, KindBio} {
		raw, ok := doc[string(kind)]
		if !ok {
			continue
		}
		var body entryBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("%s: %v", kind, err)
		}
		if kind == KindPost {
			return Post{Token: token, Entry: body.Entry, Timestamp: body.Timestamp}, nil
		}
		return Bio{Token: token, Entry: body.Entry, Timestamp: body.Timestamp}, nil
	}

	raw, ok := doc[string(KindDirectMessage)]
	if !ok {
		return nil, errors.New("unrecognized request kind")
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '"' {
		var mode ListMode
		if err := json.Unmarshal(trimmed, &mode); err != nil {
			return nil, fmt.Errorf("directmessage: %v", err)
		}
		return DirectMessageList{Token: token, Mode: mode}, nil
	}
	var body sendBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("directmessage: %v", err)
	}
	return DirectMessageSend{
		Token:     token,
		Entry:     body.Entry,
		Recipient: body.Recipient,
		Timestamp: body.Timestamp,
	}, nil
}
