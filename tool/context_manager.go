package tool

import (
	"fmt"

	"github.com/hupe1980/groupmesh/target"
)

// ContextManagerTool lets a participant read and write the shared context
// store and hand the conversation to another participant by name.
type ContextManagerTool struct {
	name        string
	description string
}

// NewContextManagerTool creates the context management tool.
//
// Supported operations:
//   - get_context / set_context / remove_context / list_context
//   - transfer_to_participant (stages a transfer to participant_name)
func NewContextManagerTool() *ContextManagerTool {
	return &ContextManagerTool{
		name: "context_manager",
		description: "Reads and updates the shared conversation context and hands the conversation " +
			"to another participant. Supports operations: get_context, set_context, remove_context, " +
			"list_context, transfer_to_participant.",
	}
}

// Name implements Tool.
func (t *ContextManagerTool) Name() string { return t.name }

// Description implements Tool.
func (t *ContextManagerTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *ContextManagerTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type": "string",
				"enum": []string{
					"get_context", "set_context", "remove_context", "list_context", "transfer_to_participant",
				},
				"description": "The context operation to perform",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "Context key for get_context/set_context/remove_context",
			},
			"value": map[string]any{
				"description": "Value for set_context (any type)",
			},
			"participant_name": map[string]any{
				"type":        "string",
				"description": "Participant for transfer_to_participant",
			},
		},
		"required": []string{"operation"},
	}
}

// Call implements Tool.
func (t *ContextManagerTool) Call(tc *Context, args map[string]any) (any, error) {
	operation, ok := args["operation"].(string)
	if !ok {
		return nil, fmt.Errorf("operation parameter is required")
	}

	switch operation {
	case "get_context":
		return t.handleGet(tc, args)
	case "set_context":
		return t.handleSet(tc, args)
	case "remove_context":
		return t.handleRemove(tc, args)
	case "list_context":
		keys := tc.Store().Keys()
		return map[string]any{"keys": keys, "count": len(keys)}, nil
	case "transfer_to_participant":
		return t.handleTransfer(tc, args)
	default:
		return nil, fmt.Errorf("unknown operation: %s", operation)
	}
}

func (t *ContextManagerTool) handleGet(tc *Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, fmt.Errorf("key parameter is required for get_context operation")
	}

	value, exists := tc.Store().Get(key)

	return map[string]any{
		"key":    key,
		"exists": exists,
		"value":  value,
	}, nil
}

func (t *ContextManagerTool) handleSet(tc *Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, fmt.Errorf("key parameter is required for set_context operation")
	}

	value := args["value"]
	tc.Store().Set(key, value)

	return map[string]any{
		"key":     key,
		"value":   value,
		"success": true,
		"message": fmt.Sprintf("Context variable '%s' set successfully", key),
	}, nil
}

func (t *ContextManagerTool) handleRemove(tc *Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, fmt.Errorf("key parameter is required for remove_context operation")
	}

	return map[string]any{"key": key, "removed": tc.Store().Remove(key)}, nil
}

func (t *ContextManagerTool) handleTransfer(tc *Context, args map[string]any) (any, error) {
	name, ok := args["participant_name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("participant_name parameter is required for transfer_to_participant operation")
	}

	tgt := target.ToName(name)
	tc.TransferTo(tgt)

	return tgt.String(), nil
}
