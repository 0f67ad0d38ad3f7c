// Package routepath turns untrusted navigation targets into canonical,
// same-origin paths.
//
// Every path the guard classifies passes through Parse first, so two spellings
// of the same page ("/admin//keys/", "/admin/./keys", "/%61dmin/keys") can
// never be classified differently.
package routepath

import (
	"errors"
	"net/url"
	"strings"
)

// Target is a canonical navigation target.
type Target struct {
	// Path is the canonical, decoded path. Always starts with "/".
	Path string

	// Query is the raw query string without the leading "?".
	Query string
}

// String renders the target as a relative URL.
func (t Target) String() string {
	if t.Query == "" {
		return t.Path
	}
	return t.Path + "?" + t.Query
}

// Path canonicalization errors.
var (
	ErrInvalidPath          = errors.New("invalid path")
	ErrAbsoluteURL          = errors.New("path is not same-origin relative")
	ErrBackslashInPath      = errors.New("path contains backslash")
	ErrNullByteInPath       = errors.New("path contains null byte")
	ErrInvalidPercentEscape = errors.New("invalid percent escape sequence")
	ErrEncodedSeparator     = errors.New("encoded separator in path segment")
	ErrPathEscapesRoot      = errors.New("path escapes root via ..")
)

// Parse canonicalizes a navigation target.
//
// The input must be a relative URL starting with "/". A fragment is dropped
// and the query is kept verbatim. The path is then normalized:
//   - percent-escapes are decoded per segment
//   - empty and "." segments are removed
//   - ".." pops the previous segment
//   - the trailing slash is removed (except for root "/")
//
// Rejected: absolute or protocol-relative URLs, backslashes, NUL bytes,
// malformed escapes, escapes that decode to a separator, and ".." above root.
func Parse(input string) (Target, error) {
	if input == "" {
		return Target{}, ErrInvalidPath
	}
	if strings.HasPrefix(input, "//") || strings.Contains(strings.SplitN(input, "/", 2)[0], ":") {
		return Target{}, ErrAbsoluteURL
	}
	if input[0] != '/' {
		return Target{}, ErrInvalidPath
	}

	input, _, _ = strings.Cut(input, "#")
	path, query, _ := strings.Cut(input, "?")

	clean, err := Clean(path)
	if err != nil {
		return Target{}, err
	}
	return Target{Path: clean, Query: query}, nil
}

// Clean canonicalizes a path with no query or fragment.
func Clean(path string) (string, error) {
	if strings.Contains(path, "\\") {
		return "", ErrBackslashInPath
	}
	if strings.Contains(path, "\x00") {
		return "", ErrNullByteInPath
	}
	if strings.Contains(path, "%") {
		if err := validatePercentEscapes(path); err != nil {
			return "", err
		}
	}

	var out []string
	for _, raw := range strings.Split(path, "/") {
		seg, err := decodeSegment(raw)
		if err != nil {
			return "", err
		}
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) == 0 {
				return "", ErrPathEscapesRoot
			}
			out = out[:len(out)-1]
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/"), nil
}

// MustClean is Clean for paths known at compile time.
func MustClean(path string) string {
	clean, err := Clean(path)
	if err != nil {
		panic("routepath: " + path + ": " + err.Error())
	}
	return clean
}

func decodeSegment(seg string) (string, error) {
	if !strings.Contains(seg, "%") {
		return seg, nil
	}
	decoded, err := url.PathUnescape(seg)
	if err != nil {
		return "", ErrInvalidPercentEscape
	}
	if strings.ContainsAny(decoded, "/\\") {
		return "", ErrEncodedSeparator
	}
	if strings.Contains(decoded, "\x00") {
		return "", ErrNullByteInPath
	}
	return decoded, nil
}

// validatePercentEscapes checks that all percent-escapes are %XX hex pairs.
func validatePercentEscapes(path string) error {
	for i := 0; i < len(path); i++ {
		if path[i] != '%' {
			continue
		}
		if i+2 >= len(path) || !isHexDigit(path[i+1]) || !isHexDigit(path[i+2]) {
			return ErrInvalidPercentEscape
		}
		i += 2
	}
	return nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// SafeRedirect validates a post-login return target. It returns the canonical
// relative URL and true, or "" and false for anything that could leave the
// origin or fail to parse.
func SafeRedirect(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	t, err := Parse(raw)
	if err != nil {
		return "", false
	}
	return t.String(), true
}

// Under reports whether path equals prefix or lies below it on a segment
// boundary. "/admin/keys" is under "/admin"; "/administrator" is not.
func Under(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Segments splits a canonical path into its segments. Root has none.
func Segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
