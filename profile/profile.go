// Package profile keeps the durable local mirror of one identity: its
// credential, its contacts and its message history, stored as a .dsu file.
package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dsumsg/models"
	"dsumsg/protocol"
)

// Extension is the required suffix of profile files.
const Extension = ".dsu"

const (
	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = ".profile-*.dsu.tmp"
)

var (
	// ErrPersistence means the storage location is missing, of the wrong
	// kind, or unwritable.
	ErrPersistence = errors.New("profile storage unusable")
	// ErrCorrupt means the file exists but is not a valid profile.
	ErrCorrupt = errors.New("corrupt profile")
)

// Profile is not safe for concurrent mutation; callers serialize Ingest and
// Persist. Contacts and history are never pruned.
type Profile struct {
	Server   string
	Username string
	Password string

	contacts []string
	messages []protocol.MessageRecord
}

// fileSchema is the on-disk layout. Field names are a stable format.
type fileSchema struct {
	DSUServer *string                   `json:"dsuserver"`
	Username  *string                   `json:"username"`
	Password  *string                   `json:"password"`
	Friends   *[]string                 `json:"_friends"`
	Messages  *[]protocol.MessageRecord `json:"_messages"`
}

func New(cred models.Credential) *Profile {
	return &Profile{
		Server:   cred.Server,
		Username: cred.Username,
		Password: cred.Password,
	}
}

func (p *Profile) Credential() models.Credential {
	return models.Credential{Server: p.Server, Username: p.Username, Password: p.Password}
}

// Matches reports whether the stored username and password are cred's.
func (p *Profile) Matches(cred models.Credential) bool {
	return p.Username == cred.Username && p.Password == cred.Password
}

// Ingest appends records to the history in order and adds each record's peer
// to the contacts if it is not there yet.
func (p *Profile) Ingest(records ...protocol.MessageRecord) {
	for _, r := range records {
		p.messages = append(p.messages, r)
		p.AddContact(r.Peer())
	}
}

// ReplaceHistory discards history and contacts and ingests records.
func (p *Profile) ReplaceHistory(records []protocol.MessageRecord) {
	p.messages = nil
	p.contacts = nil
	p.Ingest(records...)
}

// AddContact adds name unless it is empty or already present. Comparison is
// case-sensitive.
func (p *Profile) AddContact(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range p.contacts {
		if c == name {
			return false
		}
	}
	p.contacts = append(p.contacts, name)
	return true
}

func (p *Profile) Contacts() []string {
	return append([]string(nil), p.contacts...)
}

func (p *Profile) Messages() []protocol.MessageRecord {
	return append([]protocol.MessageRecord(nil), p.messages...)
}

// Conversation returns the messages exchanged with peer, oldest first.
func (p *Profile) Conversation(peer string) []protocol.MessageRecord {
	var out []protocol.MessageRecord
	for _, m := range p.messages {
		if m.Peer() == peer {
			out = append(out, m)
		}
	}
	return out
}

func checkPath(path string) error {
	if filepath.Ext(path) != Extension {
		return fmt.Errorf("%w: %s: not a %s file", ErrPersistence, path, Extension)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("%w: stat %s: %v", ErrPersistence, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s: not a regular file", ErrPersistence, path)
	}
	return nil
}

// Persist writes the whole profile to path, replacing it atomically. The
// in-memory profile is not changed.
func (p *Profile) Persist(path string) error {
	if err := checkPath(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	contacts := p.Contacts()
	if contacts == nil {
		contacts = []string{}
	}
	messages := p.Messages()
	if messages == nil {
		messages = []protocol.MessageRecord{}
	}
	data, err := json.Marshal(fileSchema{
		DSUServer: &p.Server,
		Username:  &p.Username,
		Password:  &p.Password,
		Friends:   &contacts,
		Messages:  &messages,
	})
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrPersistence, path, err)
	}

	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create profile directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp profile file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp profile file: %w", err)
	}
	if err := tempFile.Chmod(fileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp profile file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp profile file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace profile file: %w", err)
	}

	cleanup = false
	return nil
}

// Restore replaces every field of p, credential included, with the profile
// stored at path. Callers must check the restored credential against the
// one the user supplied. On error p is left unchanged.
func (p *Profile) Restore(path string) error {
	if err := checkPath(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", ErrPersistence, path)
		}
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrPersistence, path, err)
	}

	var file fileSchema
	if err := json.Unmarshal(bytes.TrimSpace(data), &file); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCorrupt, path, err)
	}
	if err := file.validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}

	p.Server = *file.DSUServer
	p.Username = *file.Username
	p.Password = *file.Password
	p.contacts = append([]string(nil), *file.Friends...)
	p.messages = append([]protocol.MessageRecord(nil), *file.Messages...)
	return nil
}

func (f fileSchema) validate() error {
	switch {
	case f.DSUServer == nil:
		return errors.New("missing dsuserver")
	case f.Username == nil:
		return errors.New("missing username")
	case f.Password == nil:
		return errors.New("missing password")
	case f.Friends == nil:
		return errors.New("missing _friends")
	case f.Messages == nil:
		return errors.New("missing _messages")
	}
	for i, m := range *f.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %v", i, err)
		}
	}
	return nil
}
