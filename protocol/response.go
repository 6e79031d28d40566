package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Response is a decoded response envelope. The payload is either Message or
// Messages; List tells the two apart even when the list is empty.
type Response struct {
	Status   Status
	Token    Token
	Message  string
	Messages []MessageRecord

	list bool
}

func NewOK(message string) Response {
	return Response{Status: StatusOK, Message: message}
}

// NewJoined is the ok response to a join, carrying the session token.
func NewJoined(message string, token Token) Response {
	return Response{Status: StatusOK, Message: message, Token: token}
}

func NewList(records []MessageRecord) Response {
	if records == nil {
		records = []MessageRecord{}
	}
	return Response{Status: StatusOK, Messages: records, list: true}
}

func NewError(message string) Response {
	return Response{Status: StatusError, Message: message}
}

func (r Response) OK() bool {
	return r.Status == StatusOK
}

// List returns the message records and whether the payload was a list.
func (r Response) List() ([]MessageRecord, bool) {
	return r.Messages, r.list
}

// Err returns a *ServerError for error responses and nil otherwise.
func (r Response) Err() error {
	if r.Status == StatusError {
		return &ServerError{Message: r.Message}
	}
	return nil
}

type responseEnvelope struct {
	Response *responseBody `json:"response"`
}

type responseBody struct {
	Type     Status           `json:"type"`
	Message  *string          `json:"message,omitempty"`
	Messages *[]MessageRecord `json:"messages,omitempty"`
	Token    *Token           `json:"token,omitempty"`
}

type rawResponse struct {
	Type     Status          `json:"type"`
	Token    *Token          `json:"token"`
	Message  json.RawMessage `json:"message"`
	Messages json.RawMessage `json:"messages"`
}

// Decode parses a response document. Surrounding whitespace, including the
// wire terminator, is ignored.
func Decode(data []byte) (Response, error) {
	var env struct {
		Response *rawResponse `json:"response"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &env); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.Response == nil {
		return Response{}, fmt.Errorf("%w: missing response envelope", ErrDecode)
	}
	raw := env.Response

	switch raw.Type {
	case StatusError:
		if raw.Message == nil {
			return Response{}, fmt.Errorf("%w: missing payload", ErrDecode)
		}
		return NewError(messageText(raw.Message)), nil

	case StatusOK:
		var resp Response
		if raw.Token != nil {
			resp.Token = *raw.Token
		}
		switch {
		case raw.Message != nil:
			resp.Status = StatusOK
			resp.Message = messageText(raw.Message)
		case raw.Messages != nil:
			records, err := decodeRecords(raw.Messages)
			if err != nil {
				return Response{}, fmt.Errorf("%w: messages: %v", ErrDecode, err)
			}
			token := resp.Token
			resp = NewList(records)
			resp.Token = token
		default:
			return Response{}, fmt.Errorf("%w: missing payload", ErrDecode)
		}
		return resp, nil
	}

	return Response{}, fmt.Errorf("%w: unrecognized status %q", ErrDecode, raw.Type)
}

// messageText returns a JSON string payload unquoted and any other payload
// as its JSON text.
func messageText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func decodeRecords(raw json.RawMessage) ([]MessageRecord, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, errors.New("not a list")
	}
	var records []MessageRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// EncodeResponse returns the JSON document for resp, without the wire
// terminator.
func EncodeResponse(resp Response) ([]byte, error) {
	if resp.Status != StatusOK && resp.Status != StatusError {
		return nil, fmt.Errorf("%w: unrecognized status %q", ErrEncode, resp.Status)
	}

	body := &responseBody{Type: resp.Status}
	if resp.list && resp.Status == StatusOK {
		records := resp.Messages
		if records == nil {
			records = []MessageRecord{}
		}
		body.Messages = &records
	} else {
		message := resp.Message
		body.Message = &message
	}
	if resp.Token != "" {
		token := resp.Token
		body.Token = &token
	}

	data, err := marshal(responseEnvelope{Response: body})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}
