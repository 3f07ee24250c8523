package sshclient

import (
	"os"
	"os/user"
	"strconv"
	"strings"
)

// PlaceholderValues supplies the substitution values for a proxy-command
// string, per spec.md §6. Unknown tokens (anything after '%' that is not one
// of the recognized letters) pass through unchanged, including the '%'.
type PlaceholderValues struct {
	Home         string // %d
	RemoteHost   string // %h
	LocalHost    string // %l, %n
	RemotePort   int    // %p
	RemoteUser   string // %r
	LocalUser    string // %u
	RemoteHome   string // %z
}

// DefaultPlaceholderValues fills in Home/LocalHost/LocalUser from the
// running process's environment, leaving the connection-specific fields for
// the caller to set.
func DefaultPlaceholderValues() PlaceholderValues {
	v := PlaceholderValues{}
	if home, err := os.UserHomeDir(); err == nil {
		v.Home = home
	}
	if hostname, err := os.Hostname(); err == nil {
		v.LocalHost = hostname
	}
	if u, err := user.Current(); err == nil {
		v.LocalUser = u.Username
	}
	return v
}

// SubstitutePlaceholders expands the %-tokens documented in spec.md §6
// within a proxy-command string. Unrecognized tokens (e.g. "%%", "%x") are
// left untouched.
func SubstitutePlaceholders(s string, v PlaceholderValues) string {
	var b strings.Builder
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' || i+1 >= len(runes) {
			b.WriteRune(runes[i])
			continue
		}
		tok := runes[i+1]
		replacement, ok := substituteToken(tok, v)
		if !ok {
			b.WriteRune(runes[i])
			continue
		}
		b.WriteString(replacement)
		i++
	}
	return b.String()
}

func substituteToken(tok rune, v PlaceholderValues) (string, bool) {
	switch tok {
	case 'd':
		return v.Home, true
	case 'h':
		return v.RemoteHost, true
	case 'l', 'n':
		return v.LocalHost, true
	case 'p':
		return strconv.Itoa(v.RemotePort), true
	case 'r':
		return v.RemoteUser, true
	case 'u':
		return v.LocalUser, true
	case 'z':
		return v.RemoteHome, true
	default:
		return "", false
	}
}
