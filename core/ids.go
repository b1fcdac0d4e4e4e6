package core

import (
	"strings"

	"github.com/google/uuid"
)

// id32 returns 32 lowercase hex characters.
func id32() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewExecutionID returns a fresh run id ("e_" + 32 hex).
func NewExecutionID() string { return "e_" + id32() }

// NewConversationID returns a synthesized conversation id ("c_" + 32 hex).
func NewConversationID() string { return "c_" + id32() }

// NewUniqueID returns an opaque unique id for a context instance.
func NewUniqueID() string { return id32() }
