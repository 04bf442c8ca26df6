package conversation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/castmatch/castmatch-server/internal/utils/idgen"
)

// ValidationConfig holds conversation and message validation rules
type ValidationConfig struct {
	MaxTitleLength       int
	MaxDescriptionLength int
	MaxContextKeys       int
	MaxContentLength     int
	MaxSearchQueryLength int
}

// DefaultValidationConfig returns the rules enforced by the API.
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		MaxTitleLength:       200,
		MaxDescriptionLength: 2000,
		MaxContextKeys:       64,
		MaxContentLength:     MaxContentLength,
		MaxSearchQueryLength: 200,
	}
}

// Validator checks conversation and message input before it reaches storage.
type Validator struct {
	config *ValidationConfig
}

// NewValidator creates a validator; nil config uses the defaults.
func NewValidator(config *ValidationConfig) *Validator {
	if config == nil {
		config = DefaultValidationConfig()
	}
	return &Validator{config: config}
}

func (v *Validator) ValidateConversationID(id string) error {
	if !idgen.ValidateID(id, idgen.ConversationPrefix) {
		return fmt.Errorf("malformed conversation id %q", id)
	}
	return nil
}

func (v *Validator) ValidateMessageID(id string) error {
	if !idgen.ValidateID(id, idgen.MessagePrefix) {
		return fmt.Errorf("malformed message id %q", id)
	}
	return nil
}

func (v *Validator) ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title cannot be blank")
	}
	if utf8.RuneCountInString(title) > v.config.MaxTitleLength {
		return fmt.Errorf("title exceeds %d characters", v.config.MaxTitleLength)
	}
	return nil
}

func (v *Validator) ValidateDescription(description string) error {
	if utf8.RuneCountInString(description) > v.config.MaxDescriptionLength {
		return fmt.Errorf("description exceeds %d characters", v.config.MaxDescriptionLength)
	}
	return nil
}

func (v *Validator) ValidateContext(ctx map[string]any) error {
	if len(ctx) > v.config.MaxContextKeys {
		return fmt.Errorf("context has more than %d keys", v.config.MaxContextKeys)
	}
	for key := range ctx {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("context keys cannot be blank")
		}
	}
	return nil
}

// ValidateContent enforces the non-empty, bounded content rule.
func (v *Validator) ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content cannot be empty")
	}
	if utf8.RuneCountInString(content) > v.config.MaxContentLength {
		return fmt.Errorf("content exceeds %d characters", v.config.MaxContentLength)
	}
	return nil
}

func (v *Validator) ValidateMessageType(t MessageType) error {
	if !ValidMessageType(t) {
		return fmt.Errorf("unsupported message type %q", t)
	}
	return nil
}

func (v *Validator) ValidateSearchQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return fmt.Errorf("search query cannot be empty")
	}
	if utf8.RuneCountInString(q) > v.config.MaxSearchQueryLength {
		return fmt.Errorf("search query exceeds %d characters", v.config.MaxSearchQueryLength)
	}
	return nil
}
