package sshclient

// BuildVersion is overridden at build time via
// -ldflags "-X github.com/sammck-go/sshconsole/pkg/sshclient.BuildVersion=...",
// in the teacher's own main.go convention.
var BuildVersion = "0.0.0-src"
