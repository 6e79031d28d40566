package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dsumsg/models"
)

// ErrCredentialMismatch means the stored profile belongs to a different
// identity than the one supplied.
var ErrCredentialMismatch = errors.New("profile credential mismatch")

// Dir stores one profile file per username.
type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: filepath.Clean(root)}
}

func (d *Dir) Root() string {
	return d.root
}

// PathFor returns the profile file for username.
func (d *Dir) PathFor(username string) (string, error) {
	if username == "" || username != filepath.Base(username) || strings.HasPrefix(username, ".") {
		return "", fmt.Errorf("%w: invalid username %q", ErrPersistence, username)
	}
	return filepath.Join(d.root, username+Extension), nil
}

// Open restores the profile for cred.Username, or creates and persists an
// empty one when none exists. A restored profile whose username or password
// differ from cred is returned together with ErrCredentialMismatch.
func (d *Dir) Open(cred models.Credential) (*Profile, error) {
	path, err := d.PathFor(cred.Username)
	if err != nil {
		return nil, err
	}

	p := New(cred)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := p.Persist(path); err != nil {
			return nil, err
		}
		return p, nil
	}

	if err := p.Restore(path); err != nil {
		return nil, err
	}
	if !p.Matches(cred) {
		return p, fmt.Errorf("%w: %s", ErrCredentialMismatch, path)
	}
	return p, nil
}

// Save persists p under its own username.
func (d *Dir) Save(p *Profile) error {
	path, err := d.PathFor(p.Username)
	if err != nil {
		return err
	}
	return p.Persist(path)
}
