package sandbox

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SafePath resolves rel inside dir. It reports false for absolute paths and
// paths that escape dir.
func SafePath(dir, rel string) (string, bool) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	if rel == "" || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return "", false
	}
	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return filepath.Join(dir, filepath.FromSlash(clean)), true
}

// Materialize writes files into dir. Unsafe paths are skipped and returned.
func Materialize(dir string, files map[string]string) ([]string, error) {
	var skipped []string
	for rel, content := range files {
		target, ok := SafePath(dir, rel)
		if !ok {
			skipped = append(skipped, rel)
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return skipped, fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return skipped, fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return skipped, nil
}

// ModuleName converts an entrypoint path into a Python module name,
// e.g. "src/main.py" becomes "src.main".
func ModuleName(entrypoint string) string {
	base := strings.TrimSuffix(entrypoint, path.Ext(strings.ReplaceAll(entrypoint, "\\", "/")))
	base = strings.ReplaceAll(base, "\\", ".")
	return strings.ReplaceAll(base, "/", ".")
}
