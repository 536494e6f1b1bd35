// Package version derives cache partition names from a single deployment
// token. Bumping the token is the only way to invalidate every partition at
// once: activation deletes any partition the current token does not own.
package version

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names one of the three logical partitions.
type Kind string

const (
	Static  Kind = "static"
	Dynamic Kind = "dynamic"
	Images  Kind = "images"
)

// ErrInvalidToken is returned for empty or malformed version tokens.
var ErrInvalidToken = errors.New("version: invalid token")

// Registry is the active version token. It is immutable once built.
type Registry struct {
	token string
}

// New validates token and returns a Registry for it. Tokens are limited to
// alphanumerics, underscore, hyphen and dot so that partition names stay
// safe as SQL values, file names and URL path segments.
func New(token string) (Registry, error) {
	if token == "" {
		return Registry{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	if len(token) > 128 {
		return Registry{}, fmt.Errorf("%w: longer than 128 bytes", ErrInvalidToken)
	}
	for _, r := range token {
		if !isTokenChar(r) {
			return Registry{}, fmt.Errorf("%w: character %q", ErrInvalidToken, r)
		}
	}
	return Registry{token: token}, nil
}

// MustNew is New for constants; it panics on an invalid token.
func MustNew(token string) Registry {
	r, err := New(token)
	if err != nil {
		panic(err)
	}
	return r
}

// Token returns the raw version token.
func (r Registry) Token() string { return r.token }

// Partition returns the partition name for kind, e.g. "v12-static".
func (r Registry) Partition(k Kind) string {
	return r.token + "-" + string(k)
}

// Partitions returns the names of all three partitions.
func (r Registry) Partitions() []string {
	kinds := Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = r.Partition(k)
	}
	return out
}

// Owns reports whether a partition name belongs to this version. It is the
// plain prefix comparison used during activation.
func (r Registry) Owns(name string) bool {
	return strings.HasPrefix(name, r.token)
}

// IsZero reports whether the registry was never initialised.
func (r Registry) IsZero() bool { return r.token == "" }

// Kinds lists every partition kind.
func Kinds() []Kind {
	return []Kind{Static, Dynamic, Images}
}

func isTokenChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
