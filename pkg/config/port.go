package config

import "hash/fnv"

// Port range for derived defaults. Keeping the span small makes the port
// predictable enough to bookmark while avoiding the common dev-server ports.
const (
	derivedPortBase = 4100
	derivedPortSpan = 100
)

// DerivePort returns a stable default port for a project directory, so the
// same repository always lands on the same dashboard URL across runs.
func DerivePort(projectDir string) int {
	h := fnv.New32a()
	h.Write([]byte(projectDir))
	return derivedPortBase + int(h.Sum32()%derivedPortSpan)
}
