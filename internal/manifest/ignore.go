package manifest

import (
	"bufio"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

// IgnoreFileName holds gitignore-style rules at the root of a synced tree.
const IgnoreFileName = ".syncignore"

var defaultIgnoreLines = []string{
	"*.tmp",
	"*.swp",
	"*~",
	"__pycache__/",
	"*.py[cod]",
	"Thumbs.db",
	"desktop.ini",
}

// IgnoreList combines the root ignore file with extra glob excludes.
type IgnoreList struct {
	rules    *gitignore.GitIgnore
	excludes []string
}

func loadIgnoreList(fs afero.Fs, root string, excludes []string) *IgnoreList {
	lines := append([]string{}, defaultIgnoreLines...)

	ignorePath := filepath.Join(root, IgnoreFileName)
	if f, err := fs.Open(ignorePath); err == nil {
		rules := 0
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
			rules++
		}
		if err := scanner.Err(); err != nil {
			slog.Warn("read ignore file", "path", ignorePath, "error", err)
		} else {
			slog.Debug("loaded ignore file", "path", ignorePath, "rules", rules)
		}
		f.Close()
	}

	valid := make([]string, 0, len(excludes))
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			slog.Warn("invalid exclude pattern", "pattern", pattern)
			continue
		}
		valid = append(valid, pattern)
	}

	return &IgnoreList{
		rules:    gitignore.CompileIgnoreLines(lines...),
		excludes: valid,
	}
}

// ShouldIgnore matches a slash-separated path relative to the tree root.
func (l *IgnoreList) ShouldIgnore(rel string, isDir bool) bool {
	candidate := rel
	if isDir {
		candidate += "/"
	}
	if l.rules != nil && l.rules.MatchesPath(candidate) {
		return true
	}
	for _, pattern := range l.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
