package claude

import (
	"encoding/json"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/openclaudgents/claudgents/internal/events"
)

const maxLoggedLineBytes = 200

// StreamParser decodes NDJSON lines from the CLI's stream-json output and
// publishes typed events. It is stateless per line; the only cross-line
// state it touches is the shared conversation map, used to record the
// external session ID exactly once per session.
//
// The CLI wraps API streaming events inside
// {"type":"stream_event","event":{...}} and also emits {"type":"system"},
// {"type":"assistant"}, and {"type":"result"} at the top level. Unknown
// discriminants are logged and ignored: the protocol is forward-extensible.
type StreamParser struct {
	bus           events.Bus
	conversations *conversationMap
	logger        *log.Logger
}

func newStreamParser(bus events.Bus, conversations *conversationMap, logger *log.Logger) *StreamParser {
	return &StreamParser{
		bus:           bus,
		conversations: conversations,
		logger:        logger,
	}
}

// ParseLine handles a single line of CLI stdout. Unparseable lines are
// logged and dropped; parsing never fails the reader.
func (p *StreamParser) ParseLine(sessionID, line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	var event map[string]any
	if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
		p.logger.Warn(
			"drop unparseable stream line",
			"session_id", sessionID,
			"error", err,
			"line", truncateLine(trimmed),
		)
		return
	}

	// Raw passthrough first, so subscribers can inspect everything the CLI
	// emits regardless of schema evolution.
	p.publish(events.ClaudeStreamEvent, sessionID, event)

	if claudeSessionID := stringField(event, "session_id"); claudeSessionID != "" {
		if p.conversations.recordOnce(sessionID, claudeSessionID) {
			p.publish(events.ClaudeSessionIDResolved, sessionID, map[string]string{
				"claudeSessionId": claudeSessionID,
			})
		}
	}

	switch eventType := stringField(event, "type"); eventType {
	case "system":
		p.handleSystem(sessionID, event)
	case "assistant":
		// Complete assistant messages duplicate what the partial-message
		// deltas already delivered.
		p.logger.Debug("assistant message complete", "session_id", sessionID)
	case "result":
		p.handleResult(sessionID, event)
	case "stream_event":
		if inner, ok := event["event"].(map[string]any); ok {
			p.handleStreamEvent(sessionID, inner)
		}
	default:
		p.logger.Debug("unknown stream line type", "session_id", sessionID, "type", eventType)
	}
}

func (p *StreamParser) handleSystem(sessionID string, event map[string]any) {
	switch subtype := stringField(event, "subtype"); subtype {
	case "init":
		p.logger.Info(
			"session init",
			"session_id", sessionID,
			"claude_session_id", stringField(event, "session_id"),
			"model", stringField(event, "model"),
		)
	case "compaction":
		p.logger.Info("context compaction occurred", "session_id", sessionID)
		p.publish(events.ClaudeCompaction, sessionID, nil)
	default:
		// hook_started, hook_response, etc. are internal to the CLI.
	}
}

func (p *StreamParser) handleResult(sessionID string, event map[string]any) {
	if isError, _ := event["is_error"].(bool); isError {
		p.logger.Warn(
			"result reported error",
			"session_id", sessionID,
			"subtype", stringField(event, "subtype"),
		)
	}

	if usage, ok := event["usage"].(map[string]any); ok {
		p.publish(events.ClaudeUsageUpdate, sessionID, usageFromMap(usage))
	}

	// The result line closes the turn even if message_stop was missed.
	p.publish(events.ClaudeMessageComplete, sessionID, nil)
}

func (p *StreamParser) handleStreamEvent(sessionID string, inner map[string]any) {
	switch innerType := stringField(inner, "type"); innerType {
	case "message_start":
		if message, ok := inner["message"].(map[string]any); ok {
			p.logger.Debug(
				"message start",
				"session_id", sessionID,
				"role", stringField(message, "role"),
				"model", stringField(message, "model"),
			)
		}
	case "content_block_start":
		p.handleContentBlockStart(sessionID, inner)
	case "content_block_delta":
		p.handleContentBlockDelta(sessionID, inner)
	case "content_block_stop":
		// Block finished; the deltas already carried the content.
	case "message_delta":
		p.handleMessageDelta(sessionID, inner)
	case "message_stop":
		p.publish(events.ClaudeMessageComplete, sessionID, nil)
	default:
		p.logger.Debug("unknown stream event type", "session_id", sessionID, "type", innerType)
	}
}

func (p *StreamParser) handleContentBlockStart(sessionID string, inner map[string]any) {
	block, ok := inner["content_block"].(map[string]any)
	if !ok || stringField(block, "type") != "tool_use" {
		return
	}

	toolName := stringField(block, "name")
	if toolName == "" {
		toolName = "unknown"
	}
	p.publish(events.ClaudeToolStart, sessionID, map[string]string{
		"toolName": toolName,
		"toolId":   stringField(block, "id"),
	})
}

func (p *StreamParser) handleContentBlockDelta(sessionID string, inner map[string]any) {
	delta, ok := inner["delta"].(map[string]any)
	if !ok {
		return
	}

	switch deltaType := stringField(delta, "type"); deltaType {
	case "text_delta":
		if text, ok := delta["text"].(string); ok {
			p.publish(events.ClaudeTextDelta, sessionID, map[string]string{"text": text})
		}
	case "input_json_delta":
		if partial, ok := delta["partial_json"].(string); ok {
			p.publish(events.ClaudeToolInputDelta, sessionID, map[string]string{"partialJson": partial})
		}
	}
}

func (p *StreamParser) handleMessageDelta(sessionID string, inner map[string]any) {
	if usage, ok := inner["usage"].(map[string]any); ok {
		p.publish(events.ClaudeUsageUpdate, sessionID, usageFromMap(usage))
	}
	if delta, ok := inner["delta"].(map[string]any); ok {
		if stopReason := stringField(delta, "stop_reason"); stopReason != "" {
			p.logger.Debug("message delta", "session_id", sessionID, "stop_reason", stopReason)
		}
	}
}

func (p *StreamParser) publish(eventType, sessionID string, payload any) {
	p.bus.Publish(events.Event{
		Type:      eventType,
		SessionID: sessionID,
		Payload:   payload,
	})
}

func usageFromMap(usage map[string]any) TokenUsage {
	return TokenUsage{
		InputTokens:              uintField(usage, "input_tokens"),
		OutputTokens:             uintField(usage, "output_tokens"),
		CacheCreationInputTokens: uintField(usage, "cache_creation_input_tokens"),
		CacheReadInputTokens:     uintField(usage, "cache_read_input_tokens"),
	}
}

func stringField(m map[string]any, key string) string {
	value, _ := m[key].(string)
	return value
}

func uintField(m map[string]any, key string) uint64 {
	value, ok := m[key].(float64)
	if !ok || value < 0 {
		return 0
	}
	return uint64(value)
}

func truncateLine(line string) string {
	if len(line) <= maxLoggedLineBytes {
		return line
	}
	return line[:maxLoggedLineBytes]
}
