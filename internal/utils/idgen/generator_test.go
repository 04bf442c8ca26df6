package idgen

import (
	"strings"
	"testing"
)

func TestGeneratedIDsValidate(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		id, err := NewMessageID()
		if err != nil {
			t.Fatalf("NewMessageID: %v", err)
		}
		if !strings.HasPrefix(id, "msg_") {
			t.Fatalf("unexpected prefix: %s", id)
		}
		if !ValidateID(id, MessagePrefix) {
			t.Fatalf("generated id failed validation: %s", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValidateIDRejects(t *testing.T) {
	cases := []string{"", "conv_", "msg_0123456789abcdef", "conv_0123456789ABCDEF", "conv_0123456789abcde"}
	for _, c := range cases {
		if ValidateID(c, ConversationPrefix) {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}
