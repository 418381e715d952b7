package types

import "strings"

// PublishResult holds the identifiers reported by a successful publish.
// Line order of the daemon's stdout is significant: line 0 is the
// remote/added hash, line 1 the local/pinned root hash.
type PublishResult struct {
	RemoteHash string `json:"remoteHash"`
	LocalHash  string `json:"localHash"`
}

// ParseOutput builds a PublishResult from the daemon's captured stdout.
// Missing lines leave the corresponding hash empty.
func ParseOutput(stdout string) *PublishResult {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	result := &PublishResult{}
	if len(lines) > 0 {
		result.RemoteHash = strings.TrimSpace(lines[0])
	}
	if len(lines) > 1 {
		result.LocalHash = strings.TrimSpace(lines[1])
	}
	return result
}

// HasLocal reports whether a gateway link can be built from the result.
func (r *PublishResult) HasLocal() bool {
	return r != nil && r.LocalHash != ""
}

// GatewayURL returns https://<host>/ipfs/<localHash>, or "" without a local hash.
func (r *PublishResult) GatewayURL(host string) string {
	if !r.HasLocal() {
		return ""
	}
	return "https://" + host + "/ipfs/" + r.LocalHash
}
