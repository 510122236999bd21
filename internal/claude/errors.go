package claude

import "errors"

var (
	// ErrBinaryNotFound indicates the claude CLI could not be resolved from
	// the explicit path, well-known install locations, or PATH.
	ErrBinaryNotFound = errors.New("claude CLI not found; install it with: npm install -g @anthropic-ai/claude-code")

	// ErrCannotResume indicates a message required a respawn but no Claude
	// session ID could be determined to resume the conversation.
	ErrCannotResume = errors.New("no Claude session ID known; cannot resume session")
)
