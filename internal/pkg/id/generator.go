package id

import (
	"crypto/rand"
	"time"
)

// TraceIDMaxLength caps accepted trace identifiers. Producers assign their
// own opaque IDs; the cap keeps buggy producers from bloating the live
// registry with oversized keys.
const TraceIDMaxLength = 128

var randReader = rand.Reader

// ValidTraceID reports whether a producer-supplied trace ID is acceptable:
// non-empty, within the length cap, printable ASCII only.
func ValidTraceID(id string) bool {
	if id == "" || len(id) > TraceIDMaxLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// NewIngestKeyPublic generates the public half of a run ingest key pair
func NewIngestKeyPublic() string {
	return "swk-pub-" + generateRandomString(24)
}

// NewIngestKeySecret generates the secret half of a run ingest key pair
func NewIngestKeySecret() string {
	return "swk-sec-" + generateRandomString(32)
}

// generateRandomString generates a random alphanumeric string
func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := randReader.Read(buf); err != nil {
		// Fallback using time
		for i := range buf {
			buf[i] = charset[time.Now().UnixNano()%int64(len(charset))]
		}
		return string(buf)
	}

	for i := range buf {
		buf[i] = charset[int(buf[i])%len(charset)]
	}
	return string(buf)
}
