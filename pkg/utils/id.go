package utils

import "github.com/google/uuid"

// GenerateID returns prefix_<uuid>.
func GenerateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// GenerateSessionID generates a unique studio session ID
func GenerateSessionID() string {
	return GenerateID("session")
}

// GenerateStreamID generates a unique output stream ID
func GenerateStreamID() string {
	return GenerateID("stream")
}

// GenerateTrackID generates a unique track ID for the given media kind
func GenerateTrackID(kind string) string {
	return GenerateID(kind)
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	return GenerateID("req")
}
