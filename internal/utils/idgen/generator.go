package idgen

import (
	"crypto/rand"
	"fmt"
)

const (
	ConversationPrefix = "conv"
	MessagePrefix      = "msg"
	ConnectionPrefix   = "conn"

	defaultIDLength = 16
)

// GenerateSecureID generates a cryptographically secure ID with the given prefix and length.
// Uses only alphanumeric characters (0-9, a-z).
func GenerateSecureID(prefix string, length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	const charset = "0123456789abcdefghijklmnopqrstuvwxyz"
	encoded := make([]byte, length)
	for i := 0; i < length; i++ {
		encoded[i] = charset[int(bytes[i])%len(charset)]
	}

	return fmt.Sprintf("%s_%s", prefix, string(encoded)), nil
}

// NewConversationID returns a public conversation id such as conv_3k9x...
func NewConversationID() (string, error) {
	return GenerateSecureID(ConversationPrefix, defaultIDLength)
}

// NewMessageID returns a public message id such as msg_0an2...
func NewMessageID() (string, error) {
	return GenerateSecureID(MessagePrefix, defaultIDLength)
}

// ValidateID reports whether id has the given prefix followed by the expected alphabet.
func ValidateID(id, prefix string) bool {
	if len(id) != len(prefix)+1+defaultIDLength || id[:len(prefix)+1] != prefix+"_" {
		return false
	}
	for _, r := range id[len(prefix)+1:] {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
