package types

// Version is the canonical project version reported by the CLI, logs and
// notification events.
const Version = "0.2.0"

// UserAgent identifies ipfs-publish in outbound HTTP requests.
func UserAgent() string {
	return "ipfs-publish/" + Version
}
