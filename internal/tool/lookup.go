package tool

import (
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"amplicon-pipeline/internal/model"
)

// Lookup maps logical tool names to binaries, searching the script directory
// before PATH.
type Lookup struct {
	overrides map[string]string
	scriptDir string
	lookPath  func(string) (string, error)
}

// NewLookup builds a Lookup from the configured overrides and script directory.
func NewLookup(overrides map[string]string, scriptDir string) *Lookup {
	return &Lookup{overrides: overrides, scriptDir: scriptDir, lookPath: exec.LookPath}
}

// Binary returns the executable for a logical tool name.
func (l *Lookup) Binary(tool string) string {
	name := tool
	if b, ok := l.overrides[tool]; ok && b != "" {
		name = b
	}
	if filepath.IsAbs(name) || l.scriptDir == "" {
		return name
	}
	candidate := filepath.Join(l.scriptDir, name)
	if isExecutable(candidate) {
		return candidate
	}
	return name
}

// Check verifies that every named tool resolves to an executable and returns
// a DependencyMissingError listing the ones that do not.
func (l *Lookup) Check(tools []string) error {
	var missing []string
	seen := make(map[string]bool)
	for _, t := range tools {
		if seen[t] {
			continue
		}
		seen[t] = true
		bin := l.Binary(t)
		if filepath.IsAbs(bin) {
			if !isExecutable(bin) {
				missing = append(missing, t)
			}
			continue
		}
		if _, err := l.lookPath(bin); err != nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &model.DependencyMissingError{Tools: missing}
	}
	return nil
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0
}
