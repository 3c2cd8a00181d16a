package memory

import (
	"context"
	"fmt"

	"github.com/avenhq/aven/pkg/tools"
)

// RegisterTools exposes the memory store to the agent as tools. All
// three are low risk: they touch only the agent's own memory.
func RegisterTools(rt *tools.Runtime, store *Store) error {
	register := func(def tools.Definition, handler tools.Handler) error {
		return rt.Register(def, handler)
	}

	if err := register(tools.Definition{
		Name:        "save_memory",
		Description: "Remember a fact about the user or an ongoing task for later conversations.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"content": map[string]interface{}{
					"type":        "string",
					"description": "The fact to remember, one sentence",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Optional grouping label, e.g. preference, project",
				},
			},
			"required": []interface{}{"content"},
		},
	}, func(ctx context.Context, input map[string]interface{}, userID string) (interface{}, error) {
		content, _ := input["content"].(string)
		category, _ := input["category"].(string)
		entry, err := store.Remember(userID, content, category)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": entry.ID, "saved": true}, nil
	}); err != nil {
		return err
	}

	if err := register(tools.Definition{
		Name:        "search_memory",
		Description: "Search previously saved memories about the user.",
		ReadOnly:    true,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Keywords to search for",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum results, default 10",
				},
			},
			"required": []interface{}{"query"},
		},
	}, func(ctx context.Context, input map[string]interface{}, userID string) (interface{}, error) {
		query, _ := input["query"].(string)
		limit := 0
		if raw, ok := input["limit"].(float64); ok {
			limit = int(raw)
		}
		entries, err := store.Search(userID, query, limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"memories": entries, "count": len(entries)}, nil
	}); err != nil {
		return err
	}

	return register(tools.Definition{
		Name:        "forget_memory",
		Description: "Delete a previously saved memory by id.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "The memory id to delete",
				},
			},
			"required": []interface{}{"id"},
		},
	}, func(ctx context.Context, input map[string]interface{}, userID string) (interface{}, error) {
		id, _ := input["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("id is required")
		}
		if err := store.Forget(userID, id); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": true}, nil
	})
}
