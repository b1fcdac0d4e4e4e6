package core

import "context"

// UserDirectory resolves the user account that acts for an AI agent flow.
type UserDirectory interface {
	AgentUserID(ctx context.Context, orgCode, flowCode string) (string, error)
}

// StaticDirectory is a map backed UserDirectory keyed by flow code.
type StaticDirectory map[string]string

// AgentUserID returns the mapped user id or "" when the flow has none.
func (d StaticDirectory) AgentUserID(_ context.Context, _, flowCode string) (string, error) {
	return d[flowCode], nil
}
