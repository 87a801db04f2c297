package events

// Helpers for building well-known data payloads. These keep callers from
// sprinkling raw map literals with inconsistent key names; all keys are
// optional on the wire and zero values are omitted.

func put(m map[string]any, key string, value any) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return
		}
	case int:
		if v == 0 {
			return
		}
	case int64:
		if v == 0 {
			return
		}
	case nil:
		return
	}
	m[key] = value
}

// WorkflowStartedData builds the data payload for a workflow_started event.
func WorkflowStartedData(workflowID, workflowName string, totalSteps int) map[string]any {
	m := map[string]any{}
	put(m, "workflow_id", workflowID)
	put(m, "workflow_name", workflowName)
	put(m, "total_steps", totalSteps)
	return m
}

// StepProgressData builds the data payload for a step_progress event.
func StepProgressData(stepID, progressMessage string, itemsProcessed, itemsTotal int) map[string]any {
	m := map[string]any{}
	put(m, "step_id", stepID)
	put(m, "progress_message", progressMessage)
	put(m, "items_processed", itemsProcessed)
	put(m, "items_total", itemsTotal)
	return m
}

// ToolExecutedData builds the data payload for a tool_executed event.
func ToolExecutedData(toolName string, toolInput map[string]any) map[string]any {
	m := map[string]any{"tool_name": toolName}
	if len(toolInput) > 0 {
		m["tool_input"] = toolInput
	}
	return m
}

// ErrorData builds the data payload for an error event.
func ErrorData(message, code string, recoverable bool) map[string]any {
	m := map[string]any{
		"error_message": message,
		"recoverable":   recoverable,
	}
	put(m, "error_code", code)
	return m
}

// HeartbeatData builds the data payload for a heartbeat event.
func HeartbeatData(sequence int) map[string]any {
	return map[string]any{"sequence": sequence}
}
