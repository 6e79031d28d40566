package server

import (
	"errors"
	"time"

	"dsumsg/db"
	"dsumsg/models"
	"dsumsg/protocol"

	"github.com/google/uuid"
)

const (
	msgInvalidToken   = "Invalid user token."
	msgInvalidJoin    = "Invalid password or username already taken"
	msgInternal       = "Internal error"
	msgUnknownRequest = "Unknown request"
)

func (s *Server) handleRequest(session *Session, req protocol.Request) protocol.Response {
	session.mu.Lock()
	session.LastSeen = time.Now()
	session.mu.Unlock()

	switch r := req.(type) {
	case protocol.Join:
		return s.handleJoin(session, r)
	case protocol.Post:
		return s.handlePost(r)
	case protocol.Bio:
		return s.handleBio(r)
	case protocol.DirectMessageSend:
		return s.handleDirectMessage(r)
	case protocol.DirectMessageList:
		return s.handleList(r)
	}
	return protocol.NewError(msgUnknownRequest)
}

func (s *Server) handleJoin(session *Session, req protocol.Join) protocol.Response {
	// A connection stays bound to the first identity it joined as.
	if session.Token != "" {
		if session.Username != req.Username {
			return protocol.NewError(msgInvalidJoin)
		}
		valid, err := s.db.Authenticate(req.Username, req.Password)
		if err != nil || !valid {
			return protocol.NewError(msgInvalidJoin)
		}
		return protocol.NewJoined("Welcome back, "+req.Username, session.Token)
	}

	exists, err := s.db.AccountExists(req.Username)
	if err != nil {
		s.log.Error("join failed", "error", err)
		return protocol.NewError(msgInternal)
	}

	greeting := "Welcome back, " + req.Username
	if !exists {
		err := s.db.CreateAccount(req.Username, req.Password)
		switch {
		case err == nil:
			greeting = "Welcome to the DSU server, " + req.Username
		case errors.Is(err, db.ErrAccountExists):
			// Another connection created the account after our lookup.
			exists = true
		default:
			s.log.Error("create account failed", "error", err)
			return protocol.NewError(msgInternal)
		}
	}
	if exists {
		valid, err := s.db.Authenticate(req.Username, req.Password)
		if err != nil {
			s.log.Error("join failed", "error", err)
			return protocol.NewError(msgInternal)
		}
		if !valid {
			return protocol.NewError(msgInvalidJoin)
		}
	}

	session.Username = req.Username
	session.Token = protocol.Token(uuid.NewString())
	s.addSession(session)
	s.log.Info("joined", "username", req.Username)

	return protocol.NewJoined(greeting, session.Token)
}

// authorize resolves a token to its live session.
func (s *Server) authorize(token protocol.Token) (*Session, bool) {
	if token == "" {
		return nil, false
	}
	return s.getSession(token)
}

func (s *Server) handlePost(req protocol.Post) protocol.Response {
	session, ok := s.authorize(req.Token)
	if !ok {
		return protocol.NewError(msgInvalidToken)
	}
	if err := s.db.SavePost(session.Username, req.Entry, req.Timestamp); err != nil {
		s.log.Error("save post failed", "error", err)
		return protocol.NewError(msgInternal)
	}
	return protocol.NewOK("Post published to DSP platform")
}

func (s *Server) handleBio(req protocol.Bio) protocol.Response {
	session, ok := s.authorize(req.Token)
	if !ok {
		return protocol.NewError(msgInvalidToken)
	}
	if err := s.db.SetBio(session.Username, req.Entry); err != nil {
		s.log.Error("set bio failed", "error", err)
		return protocol.NewError(msgInternal)
	}
	return protocol.NewOK("Bio published to DSP platform")
}

func (s *Server) handleDirectMessage(req protocol.DirectMessageSend) protocol.Response {
	session, ok := s.authorize(req.Token)
	if !ok {
		return protocol.NewError(msgInvalidToken)
	}

	exists, err := s.db.AccountExists(req.Recipient)
	if err != nil {
		s.log.Error("direct message failed", "error", err)
		return protocol.NewError(msgInternal)
	}
	if !exists {
		return protocol.NewError("Unable to send direct message")
	}

	timestamp := req.Timestamp
	if timestamp == 0 {
		timestamp = protocol.UnixSeconds(time.Now())
	}
	if err := s.db.SaveMessage(session.Username, req.Recipient, req.Entry, timestamp); err != nil {
		s.log.Error("direct message failed", "error", err)
		return protocol.NewError(msgInternal)
	}

	return protocol.NewOK("Direct message sent")
}

func (s *Server) handleList(req protocol.DirectMessageList) protocol.Response {
	session, ok := s.authorize(req.Token)
	if !ok {
		return protocol.NewError(msgInvalidToken)
	}

	var (
		messages []models.StoredMessage
		err      error
	)
	if req.Mode == protocol.ListNew {
		messages, err = s.db.TakeNewMessages(session.Username)
	} else {
		messages, err = s.db.GetAllMessages(session.Username)
	}
	if err != nil {
		s.log.Error("list messages failed", "mode", req.Mode, "error", err)
		return protocol.NewError(msgInternal)
	}

	records := make([]protocol.MessageRecord, 0, len(messages))
	for _, m := range messages {
		records = append(records, recordFor(session.Username, m))
	}
	return protocol.NewList(records)
}

// recordFor renders a stored message from owner's point of view.
func recordFor(owner string, m models.StoredMessage) protocol.MessageRecord {
	ts := protocol.FormatSeconds(m.Timestamp)
	if m.Sender == owner {
		return protocol.SentRecord(m.Recipient, m.Text, ts)
	}
	return protocol.ReceivedRecord(m.Sender, m.Text, ts)
}
