package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/madaxer/devopsAgent/pkg/contracts"
)

const (
	maxListEntries = 500
	previewEntries = 20
)

const listPathSchema = `{
  "type": "object",
  "required": ["path"],
  "properties": {
    "path": {"type": "string", "minLength": 1, "pattern": "\\S"}
  }
}`

// ListPath lists a local directory. params.path may start with "~".
func ListPath(_ context.Context, req contracts.ActionRequest) (string, error) {
	raw, _ := req.Params["path"].(string)
	if strings.TrimSpace(raw) == "" {
		return "", &ValidationError{Action: req.Action, Message: "vm.list_path requires params.path as non-empty string"}
	}

	path, err := resolvePath(raw)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("path does not exist: %s", path)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if isDir(path, e) {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	total := len(names)
	visible := names
	if total > maxListEntries {
		visible = names[:maxListEntries]
	}

	preview := "(empty)"
	if len(visible) > 0 {
		preview = strings.Join(visible[:min(previewEntries, len(visible))], ", ")
	}
	truncated := ""
	if total > maxListEntries {
		truncated = " (truncated)"
	}

	return fmt.Sprintf("Listed %d/%d entries under '%s'%s. Preview: %s", len(visible), total, path, truncated, preview), nil
}

func resolvePath(raw string) (string, error) {
	if raw == "~" || strings.HasPrefix(raw, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot expand ~: %w", err)
		}
		raw = filepath.Join(home, strings.TrimPrefix(raw, "~"))
	}
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// isDir follows symlinks so linked directories are listed with a trailing slash.
func isDir(parent string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && info.IsDir()
}
