package protocol

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Timestamp is a record timestamp kept as text. Servers send it either as a
// JSON string or as a number of Unix seconds; both decode to the same text.
type Timestamp string

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = Timestamp(n.String())
	return nil
}

// Time parses the timestamp as Unix seconds.
func (t Timestamp) Time() (time.Time, bool) {
	secs, err := strconv.ParseFloat(string(t), 64)
	if err != nil {
		return time.Time{}, false
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9)), true
}

// UnixSeconds converts t to the fractional seconds used in requests.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// TimestampOf formats t the way the relay stores record timestamps.
func TimestampOf(t time.Time) Timestamp {
	return FormatSeconds(UnixSeconds(t))
}

func FormatSeconds(secs float64) Timestamp {
	return Timestamp(strconv.FormatFloat(secs, 'f', -1, 64))
}

// MessageRecord is a direct message as it appears in list responses and in
// profile files. Exactly one of From and Recipient is set: From for
// messages the owner received, Recipient for messages the owner sent.
type MessageRecord struct {
	From      string    `json:"from,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

var (
	errNoPeer   = errors.New("record has neither from nor recipient")
	errTwoPeers = errors.New("record has both from and recipient")
)

func ReceivedRecord(from, text string, ts Timestamp) MessageRecord {
	return MessageRecord{From: from, Message: text, Timestamp: ts}
}

func SentRecord(to, text string, ts Timestamp) MessageRecord {
	return MessageRecord{Recipient: to, Message: text, Timestamp: ts}
}

// Validate reports whether exactly one of From and Recipient is set.
func (r MessageRecord) Validate() error {
	switch {
	case r.From == "" && r.Recipient == "":
		return errNoPeer
	case r.From != "" && r.Recipient != "":
		return errTwoPeers
	}
	return nil
}

// Received reports whether the record was delivered to the owner.
func (r MessageRecord) Received() bool {
	return r.From != ""
}

// Peer returns the other party: the sender if present, else the recipient.
func (r MessageRecord) Peer() string {
	if r.From != "" {
		return r.From
	}
	return r.Recipient
}
