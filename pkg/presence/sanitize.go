package presence

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxUsernameSize bounds display names in bytes.
	DefaultMaxUsernameSize = 256
	// EnvMaxUsernameSize is the environment variable to override the default
	EnvMaxUsernameSize = "CONCORD_MAX_USERNAME_SIZE"
)

var (
	ErrUsernameTooLarge = errors.New("username exceeds maximum allowed size")
	ErrInvalidUTF8      = errors.New("username contains invalid UTF-8 sequences")
)

// SanitizeUsername enforces the size limit, validates UTF-8 and strips control
// characters, so display names are safe to log and render in other clients.
func SanitizeUsername(name string) (string, error) {
	limit := maxUsernameSize()
	if len(name) > limit {
		// Reject rather than truncate so every client sees the same name.
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrUsernameTooLarge, len(name), limit)
	}

	if !utf8.ValidString(name) {
		return "", ErrInvalidUTF8
	}

	// Fast path: if no control chars, return as is.
	if strings.IndexFunc(name, unicode.IsControl) < 0 {
		return strings.TrimSpace(name), nil
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func maxUsernameSize() int {
	if val := os.Getenv(EnvMaxUsernameSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxUsernameSize
}
