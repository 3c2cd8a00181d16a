package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxReadBytes  = 200000
	maxFetchBytes = 500000
	fetchTimeout  = 30 * time.Second
)

// RegisterBuiltins registers the baseline tool set on a runtime. All
// filesystem access is confined to workspaceRoot.
func RegisterBuiltins(rt *Runtime, workspaceRoot string) error {
	register := func(def Definition, handler Handler) error {
		if err := rt.Register(def, handler); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
		return nil
	}

	if err := register(currentTimeTool()); err != nil {
		return err
	}
	if err := register(readFileTool(workspaceRoot)); err != nil {
		return err
	}
	if err := register(writeFileTool(workspaceRoot)); err != nil {
		return err
	}
	return register(fetchURLTool())
}

func currentTimeTool() (Definition, Handler) {
	def := Definition{
		Name:        "current_time",
		Description: "Get the current date and time.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"timezone": map[string]interface{}{
					"type":        "string",
					"description": "IANA timezone name (default UTC)",
				},
			},
		},
		ReadOnly: true,
	}
	handler := func(ctx context.Context, input map[string]interface{}, userID string) (interface{}, error) {
		loc := time.UTC
		if tz, ok := input["timezone"].(string); ok && tz != "" {
			parsed, err := time.LoadLocation(tz)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", tz)
			}
			loc = parsed
		}
		now := time.Now().In(loc)
		return map[string]interface{}{
			"iso":      now.Format(time.RFC3339),
			"weekday":  now.Weekday().String(),
			"timezone": loc.String(),
		}, nil
	}
	return def, handler
}

func readFileTool(workspaceRoot string) (Definition, Handler) {
	def := Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative file path",
				},
			},
			"required": []interface{}{"path"},
		},
		ReadOnly: true,
	}
	handler := func(ctx context.Context, input map[string]interface{}, userID string) (interface{}, error) {
		pathValue, _ := input["path"].(string)
		target, err := resolveInWorkspace(workspaceRoot, pathValue)
		if err != nil {
			return nil, err
		}
		file, err := os.Open(target)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", pathValue, err)
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxReadBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", pathValue, err)
		}
		return map[string]interface{}{
			"path":    pathValue,
			"content": string(data),
			"bytes":   len(data),
		}, nil
	}
	return def, handler
}

func writeFileTool(workspaceRoot string) (Definition, Handler) {
	def := Definition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Relative file path",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "File content",
				},
			},
			"required": []interface{}{"path", "content"},
		},
		RequiresApproval: true,
	}
	handler := func(ctx context.Context, input map[string]interface{}, userID string) (interface{}, error) {
		pathValue, _ := input["path"].(string)
		content, _ := input["content"].(string)
		target, err := resolveInWorkspace(workspaceRoot, pathValue)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", pathValue, err)
		}
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", pathValue, err)
		}
		return map[string]interface{}{
			"path":  pathValue,
			"bytes": len(content),
		}, nil
	}
	return def, handler
}

func fetchURLTool() (Definition, Handler) {
	def := Definition{
		Name:        "fetch_url",
		Description: "Fetch the contents of an HTTP or HTTPS URL.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "URL to fetch",
				},
			},
			"required": []interface{}{"url"},
		},
		ReadOnly: true,
	}
	client := &http.Client{Timeout: fetchTimeout}
	handler := func(ctx context.Context, input map[string]interface{}, userID string) (interface{}, error) {
		rawURL, _ := input["url"].(string)
		if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
			return nil, fmt.Errorf("only http and https URLs are supported")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid url: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return map[string]interface{}{
			"status": resp.StatusCode,
			"body":   string(body),
			"bytes":  len(body),
		}, nil
	}
	return def, handler
}

// resolveInWorkspace joins a relative path against the workspace root
// and rejects escapes.
func resolveInWorkspace(root, rel string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("workspace root is not configured")
	}
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed")
	}
	target := filepath.Clean(filepath.Join(root, rel))
	rootClean := filepath.Clean(root)
	if target != rootClean && !strings.HasPrefix(target, rootClean+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", rel)
	}
	return target, nil
}
