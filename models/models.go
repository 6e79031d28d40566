package models

import (
	"fmt"
	"time"

	"dsumsg/protocol"
)

// Credential identifies the account a session authenticates as.
type Credential struct {
	Server   string
	Username string
	Password string
}

// Direction tells which side of a conversation a message is on.
type Direction int

const (
	Received Direction = iota + 1
	Sent
)

func (d Direction) String() string {
	switch d {
	case Received:
		return "received"
	case Sent:
		return "sent"
	}
	return "unknown"
}

// DirectMessage is either a message received from Peer or a message sent to
// Peer. Build one with NewReceived, NewSent or FromRecord.
type DirectMessage struct {
	direction Direction
	peer      string
	Text      string
	Timestamp protocol.Timestamp
}

func NewReceived(from, text string, ts protocol.Timestamp) DirectMessage {
	return DirectMessage{direction: Received, peer: from, Text: text, Timestamp: ts}
}

func NewSent(to, text string, ts protocol.Timestamp) DirectMessage {
	return DirectMessage{direction: Sent, peer: to, Text: text, Timestamp: ts}
}

// FromRecord maps a wire record by its discriminator.
func FromRecord(r protocol.MessageRecord) (DirectMessage, error) {
	if err := r.Validate(); err != nil {
		return DirectMessage{}, fmt.Errorf("%w: %v", protocol.ErrDecode, err)
	}
	if r.Received() {
		return NewReceived(r.From, r.Message, r.Timestamp), nil
	}
	return NewSent(r.Recipient, r.Message, r.Timestamp), nil
}

func (m DirectMessage) Direction() Direction { return m.direction }

// Peer is the other party of the message.
func (m DirectMessage) Peer() string { return m.peer }

// Sender returns the sender of a received message.
func (m DirectMessage) Sender() (string, bool) {
	return m.peer, m.direction == Received
}

// Recipient returns the recipient of a sent message.
func (m DirectMessage) Recipient() (string, bool) {
	return m.peer, m.direction == Sent
}

// Record converts the message back to its wire and profile form.
func (m DirectMessage) Record() protocol.MessageRecord {
	if m.direction == Sent {
		return protocol.SentRecord(m.peer, m.Text, m.Timestamp)
	}
	return protocol.ReceivedRecord(m.peer, m.Text, m.Timestamp)
}

// Records converts a batch of messages, keeping order.
func Records(msgs []DirectMessage) []protocol.MessageRecord {
	records := make([]protocol.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, m.Record())
	}
	return records
}

// Account is a relay account row.
type Account struct {
	ID       int64
	Username string
	Password string // hashed
	Bio      string
}

// StoredMessage is a relay message row.
type StoredMessage struct {
	ID        int64
	Sender    string
	Recipient string
	Text      string
	Timestamp float64 // Unix seconds
	Delivered bool
}

// Post is a relay journal entry.
type Post struct {
	ID        int64
	Author    string
	Entry     string
	Timestamp float64
	Created   time.Time
}
