package hooks

import "fmt"

// normalizeWake validates and normalizes a raw wake payload (spec.md
// §4.3 step 8 "wake").
func normalizeWake(payload map[string]any) (WakePayload, error) {
	text, _ := payload["text"].(string)
	if text == "" {
		return WakePayload{}, fmt.Errorf("text is required")
	}

	mode := WakeNow
	if raw, ok := payload["mode"].(string); ok && raw != "" {
		switch WakeMode(raw) {
		case WakeNow, WakeNextHeartbeat:
			mode = WakeMode(raw)
		default:
			return WakePayload{}, fmt.Errorf("mode must be %q or %q", WakeNow, WakeNextHeartbeat)
		}
	}

	return WakePayload{Text: text, Mode: mode}, nil
}

// normalizeAgent validates and normalizes a raw agent payload (spec.md
// §4.3 step 8 "agent"), enforcing the agent-policy allowlist and
// resolving the session key and agent id against cfg.
func normalizeAgent(payload map[string]any, cfg Config) (AgentPayload, error) {
	message, _ := payload["message"].(string)
	if message == "" {
		return AgentPayload{}, fmt.Errorf("message is required")
	}
	name, _ := payload["name"].(string)

	agentID, _ := payload["agentId"].(string)
	if agentID == "" {
		agentID = name
	}
	agentID = cfg.resolveAlias(agentID)
	if agentID != "" && !cfg.agentAllowed(agentID) {
		return AgentPayload{}, fmt.Errorf("agent %q is not permitted by policy", agentID)
	}

	mode := WakeNow
	if raw, ok := payload["wakeMode"].(string); ok && raw != "" {
		switch WakeMode(raw) {
		case WakeNow, WakeNextHeartbeat:
			mode = WakeMode(raw)
		default:
			return AgentPayload{}, fmt.Errorf("wakeMode must be %q or %q", WakeNow, WakeNextHeartbeat)
		}
	}

	sessionKey, _ := payload["sessionKey"].(string)
	if sessionKey == "" {
		sessionKey = cfg.DefaultSessionKey
	}
	if sessionKey == "" && cfg.RequireSessionKey {
		return AgentPayload{}, fmt.Errorf("sessionKey is required and no default is configured")
	}

	deliver := true
	if raw, ok := payload["deliver"].(bool); ok {
		deliver = raw
	}
	channel, _ := payload["channel"].(string)
	to, _ := payload["to"].(string)
	model, _ := payload["model"].(string)
	thinking, _ := payload["thinking"].(string)

	timeoutSeconds := 0
	if raw, ok := payload["timeoutSeconds"].(float64); ok {
		timeoutSeconds = int(raw)
	}

	allowUnsafe := false
	if raw, ok := payload["allowUnsafeExternalContent"].(bool); ok {
		allowUnsafe = raw
	}

	return AgentPayload{
		Message:                    message,
		Name:                       name,
		AgentID:                    agentID,
		WakeMode:                   mode,
		SessionKey:                 sessionKey,
		Deliver:                    deliver,
		Channel:                    channel,
		To:                         to,
		Model:                      model,
		Thinking:                   thinking,
		TimeoutSeconds:             timeoutSeconds,
		AllowUnsafeExternalContent: allowUnsafe,
	}, nil
}
