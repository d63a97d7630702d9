package shell

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
)

var cdCommands = map[string]bool{
	"cd":           true,
	"chdir":        true,
	"pushd":        true,
	"set-location": true,
	"sl":           true,
}

// leadingDirectoryChange returns the target of a cd-like first segment.
func leadingDirectoryChange(command string) (string, bool) {
	words, ok := splitWords(firstSegment(command))
	if !ok || len(words) == 0 {
		return "", false
	}
	if !cdCommands[strings.ToLower(words[0])] {
		return "", false
	}
	var target string
	for i := 1; i < len(words); i++ {
		w := words[i]
		lower := strings.ToLower(w)
		if lower == "-path" || lower == "-literalpath" {
			if i+1 < len(words) {
				target = words[i+1]
			}
			break
		}
		if w == "-" {
			return "", false
		}
		if strings.HasPrefix(w, "-") || strings.EqualFold(w, "/d") {
			continue
		}
		target = w
		break
	}
	if target == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		return home, true
	}
	return target, true
}

// splitWords parses POSIX quoting; segments with backslashes are windows
// paths and are split on whitespace instead.
func splitWords(segment string) ([]string, bool) {
	if strings.Contains(segment, `\`) {
		fields := strings.Fields(segment)
		for i, f := range fields {
			fields[i] = strings.Trim(f, `"'`)
		}
		return fields, true
	}
	words, err := shellquote.Split(segment)
	if err != nil {
		return nil, false
	}
	return words, true
}

// firstSegment cuts the command at the first separator outside quotes.
func firstSegment(command string) string {
	var quote rune
	for i, ch := range command {
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ';' || ch == '\n' || ch == '|':
			return command[:i]
		case ch == '&' && strings.HasPrefix(command[i:], "&&"):
			return command[:i]
		}
	}
	return command
}

// resolveDir resolves target against from and reports whether it is an existing directory.
func resolveDir(from, target string) (string, bool) {
	if target == "~" || strings.HasPrefix(target, "~/") || strings.HasPrefix(target, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		target = filepath.Join(home, target[1:])
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(from, target)
	}
	target = filepath.Clean(target)
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return target, true
}
