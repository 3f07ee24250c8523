package sshclient

import "testing"

func TestSubstitutePlaceholders(t *testing.T) {
	values := PlaceholderValues{
		Home:       "/home/alice",
		RemoteHost: "example.com",
		LocalHost:  "laptop",
		RemotePort: 2222,
		RemoteUser: "bob",
		LocalUser:  "alice",
		RemoteHome: "/home/bob",
	}

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"home", "%d/.ssh/config", "/home/alice/.ssh/config"},
		{"remote host and port", "nc -X connect -x %h:%p", "nc -X connect -x example.com:2222"},
		{"local host via l", "%l", "laptop"},
		{"local host via n", "%n", "laptop"},
		{"remote user", "%r", "bob"},
		{"local user", "%u", "alice"},
		{"remote home", "%z", "/home/bob"},
		{"unknown token passes through", "%x stays literal", "%x stays literal"},
		{"trailing percent passes through", "abc%", "abc%"},
		{"multiple tokens", "%u@%h:%p", "alice@example.com:2222"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := SubstitutePlaceholders(c.in, values)
			if got != c.want {
				t.Errorf("SubstitutePlaceholders(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
