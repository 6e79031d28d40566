package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken = Token("user_token")
	testTime  = 1603167689.5
)

func TestEncodeMatchesReferenceDocuments(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "join",
			req:  Join{Username: "ohhimark", Password: "password123"},
			want: `{"join":{"username":"ohhimark","password":"password123","token":""}}`,
		},
		{
			name: "post",
			req:  Post{Token: testToken, Entry: "Hello World!", Timestamp: testTime},
			want: `{"token":"user_token","post":{"entry":"Hello World!","timestamp":1603167689.5}}`,
		},
		{
			name: "bio",
			req:  Bio{Token: testToken, Entry: "Hello World!", Timestamp: testTime},
			want: `{"token":"user_token","bio":{"entry":"Hello World!","timestamp":1603167689.5}}`,
		},
		{
			name: "direct message",
			req:  DirectMessageSend{Token: testToken, Entry: "Hello World!", Recipient: "ohhimark", Timestamp: testTime},
			want: `{"token":"user_token","directmessage":{"entry":"Hello World!","recipient":"ohhimark","timestamp":1603167689.5}}`,
		},
		{
			name: "list new",
			req:  DirectMessageList{Token: testToken, Mode: ListNew},
			want: `{"token":"user_token","directmessage":"new"}`,
		},
		{
			name: "list all",
			req:  DirectMessageList{Token: testToken, Mode: ListAll},
			want: `{"token":"user_token","directmessage":"all"}`,
		},
		{
			name: "html characters are not escaped",
			req:  DirectMessageSend{Token: testToken, Entry: "<b>&</b>", Recipient: "r", Timestamp: 1},
			want: `{"token":"user_token","directmessage":{"entry":"<b>&</b>","recipient":"r","timestamp":1}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))

			again, err := Encode(tt.req)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestEncodeDoesNotAppendTerminator(t *testing.T) {
	got, err := Encode(Join{Username: "a", Password: "b"})
	require.NoError(t, err)
	assert.NotContains(t, string(got), "\n")
	assert.NotContains(t, string(got), "\r")
}

func TestEncodeRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"join without username", Join{Password: "pw"}},
		{"join without password", Join{Username: "u"}},
		{"post without token", Post{Entry: "hi"}},
		{"post without entry", Post{Token: testToken}},
		{"bio without token", Bio{Entry: "hi"}},
		{"bio without entry", Bio{Token: testToken}},
		{"send without token", DirectMessageSend{Entry: "hi", Recipient: "r"}},
		{"send without entry", DirectMessageSend{Token: testToken, Recipient: "r"}},
		{"send without recipient", DirectMessageSend{Token: testToken, Entry: "hi"}},
		{"list without token", DirectMessageList{Mode: ListNew}},
		{"list with unknown mode", DirectMessageList{Token: testToken, Mode: "what is this?"}},
		{"list without mode", DirectMessageList{Token: testToken}},
		{"nil request", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.req)
			require.ErrorIs(t, err, ErrEncode)
		})
	}
}

func TestEncodeAcceptsZeroTimestamp(t *testing.T) {
	got, err := Encode(Post{Token: testToken, Entry: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"token":"user_token","post":{"entry":"hi","timestamp":0}}`, string(got))
}

func TestDecodeRequestRoundTrip(t *testing.T) {
	reqs := []Request{
		Join{Username: "ohhimark", Password: "password123"},
		Post{Token: testToken, Entry: "entry", Timestamp: testTime},
		Bio{Token: testToken, Entry: "bio", Timestamp: testTime},
		DirectMessageSend{Token: testToken, Entry: "hey", Recipient: "markb", Timestamp: testTime},
		DirectMessageList{Token: testToken, Mode: ListNew},
		DirectMessageList{Token: testToken, Mode: ListAll},
	}

	for _, req := range reqs {
		doc, err := Encode(req)
		require.NoError(t, err)

		got, err := DecodeRequest(append(doc, Terminator...))
		require.NoError(t, err, string(doc))
		assert.Equal(t, req, got)
	}
}

func TestDecodeRequestRejectsInvalidDocuments(t *testing.T) {
	docs := []string{
		`not json`,
		`{}`,
		`{"token":"t","something":{}}`,
		`{"join":{"username":"","password":"pw","token":""}}`,
		`{"token":"","directmessage":"new"}`,
		`{"token":"t","directmessage":"bogus"}`,
		`{"token":"t","directmessage":{"entry":"hi","timestamp":1}}`,
		`{"token":5,"post":{"entry":"hi","timestamp":1}}`,
	}
	for _, doc := range docs {
		_, err := DecodeRequest([]byte(doc))
		assert.ErrorIs(t, err, ErrDecode, doc)
	}
}

func TestDecodeError(t *testing.T) {
	resp, err := Decode([]byte(`{"response": {"type": "error", "message": "An error message will be contained here."}}`))
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "An error message will be contained here.", resp.Message)
	assert.Empty(t, resp.Token)
	assert.False(t, resp.OK())

	var serverErr *ServerError
	require.ErrorAs(t, resp.Err(), &serverErr)
	assert.Equal(t, "An error message will be contained here.", serverErr.Message)
}

func TestDecodeJoinOK(t *testing.T) {
	resp, err := Decode([]byte(`{"response": {"type": "ok", "message": "", "token": "user_token"}}` + Terminator))
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "", resp.Message)
	assert.Equal(t, testToken, resp.Token)
	assert.NoError(t, resp.Err())

	_, isList := resp.List()
	assert.False(t, isList)
}

func TestDecodeDirectMessageSent(t *testing.T) {
	resp, err := Decode([]byte(`{"response": {"type": "ok", "message": "Direct message sent"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Direct message sent", resp.Message)
	assert.Empty(t, resp.Token)
}

func TestDecodeMessagesKeepsOrder(t *testing.T) {
	doc := `{"response": {"type": "ok", "messages": [
		{"message": "Are you there?!", "from": "markb", "timestamp": "1603167689.3928561"},
		{"message": "Yeah I just went to grab some water! Jesus!", "recipient": "markb", "timestamp": "1603167699.3928561"},
		{"message": "Bzzzzz", "from": "thebeemoviescript", "timestamp": 1603167689.3928561}
	]}}`

	resp, err := Decode([]byte(doc))
	require.NoError(t, err)

	records, isList := resp.List()
	require.True(t, isList)
	assert.Equal(t, []MessageRecord{
		{From: "markb", Message: "Are you there?!", Timestamp: "1603167689.3928561"},
		{Recipient: "markb", Message: "Yeah I just went to grab some water! Jesus!", Timestamp: "1603167699.3928561"},
		{From: "thebeemoviescript", Message: "Bzzzzz", Timestamp: "1603167689.3928561"},
	}, records)
}

func TestDecodeEmptyMessagesIsAList(t *testing.T) {
	resp, err := Decode([]byte(`{"response":{"type":"ok","messages":[]}}`))
	require.NoError(t, err)

	records, isList := resp.List()
	assert.True(t, isList)
	assert.Empty(t, records)
}

func TestDecodePrefersMessageOverMessages(t *testing.T) {
	resp, err := Decode([]byte(`{"response":{"type":"ok","message":"m","messages":[{"from":"a","message":"x","timestamp":""}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "m", resp.Message)
	_, isList := resp.List()
	assert.False(t, isList)
}

func TestDecodeNonStringMessage(t *testing.T) {
	resp, err := Decode([]byte(`{"response":{"type":"ok","message":{"a": 1}}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Message)
}

func TestDecodeFailures(t *testing.T) {
	docs := map[string]string{
		"not json":        `this is a string`,
		"bogus status":    `{"response":{"type":"bogus","message":"x"}}`,
		"missing status":  `{"response":{"message":"x"}}`,
		"no payload":      `{"response":{"type":"ok","messager":"hi"}}`,
		"error no text":   `{"response":{"type":"error"}}`,
		"no envelope":     `{"type":"ok","message":"x"}`,
		"messages null":   `{"response":{"type":"ok","messages":null}}`,
		"messages scalar": `{"response":{"type":"ok","messages":"x"}}`,
		"token number":    `{"response":{"type":"ok","message":"","token":5}}`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestEncodeResponse(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want string
	}{
		{"ok", NewOK("Direct message sent"), `{"response":{"type":"ok","message":"Direct message sent"}}`},
		{"joined", NewJoined("Welcome", "abc"), `{"response":{"type":"ok","message":"Welcome","token":"abc"}}`},
		{"error", NewError("Invalid user token."), `{"response":{"type":"error","message":"Invalid user token."}}`},
		{"empty list", NewList(nil), `{"response":{"type":"ok","messages":[]}}`},
		{"list", NewList([]MessageRecord{ReceivedRecord("a", "hi", "1.5"), SentRecord("b", "yo", "2")}),
			`{"response":{"type":"ok","messages":[{"from":"a","message":"hi","timestamp":"1.5"},{"recipient":"b","message":"yo","timestamp":"2"}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeResponse(tt.resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))

			decoded, err := Decode(got)
			require.NoError(t, err)
			assert.Equal(t, tt.resp, decoded)
		})
	}

	_, err := EncodeResponse(Response{Status: "bogus"})
	assert.ErrorIs(t, err, ErrEncode)
}

func TestMessageRecordValidate(t *testing.T) {
	assert.NoError(t, ReceivedRecord("a", "x", "").Validate())
	assert.NoError(t, SentRecord("b", "x", "").Validate())
	assert.Error(t, MessageRecord{Message: "x"}.Validate())
	assert.Error(t, MessageRecord{From: "a", Recipient: "b"}.Validate())

	assert.Equal(t, "a", ReceivedRecord("a", "x", "").Peer())
	assert.Equal(t, "b", SentRecord("b", "x", "").Peer())
}

func TestTimestamp(t *testing.T) {
	at := time.Unix(1603167689, 500_000_000)
	assert.Equal(t, 1603167689.5, UnixSeconds(at))
	assert.Equal(t, Timestamp("1603167689.5"), TimestampOf(at))

	parsed, ok := Timestamp("1603167689.5").Time()
	require.True(t, ok)
	assert.Equal(t, at.Unix(), parsed.Unix())

	_, ok = Timestamp("").Time()
	assert.False(t, ok)
}
