// Package identity implements the IdentitySource port by reading the
// projected Kubernetes service account token from disk.
package identity

import (
	"errors"
	"os"
	"strings"

	"github.com/ericfisherdev/credsidecar/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdentitySource = (*FileSource)(nil)

// errEmptyToken is wrapped in an IdentitySourceError when the token file
// contains only whitespace.
var errEmptyToken = errors.New("token file is empty")

// FileSource reads the identity token from a fixed path.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for the given token path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the token file location.
func (s *FileSource) Path() string {
	return s.path
}

// ReadIdentityToken reads and trims the token file.
func (s *FileSource) ReadIdentityToken() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", &driven.IdentitySourceError{Path: s.path, Err: err}
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", &driven.IdentitySourceError{Path: s.path, Err: errEmptyToken}
	}

	return token, nil
}
