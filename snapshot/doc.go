// Package snapshot persists suspended runs so a wait_message node can resume
// when the next chat message of the same conversation arrives.
package snapshot
