package shell

import (
	"strings"
)

// promptPrefixes are interactive prompts models like to copy into examples.
var promptPrefixes = []string{"$ ", "PS> "}

// ExtractCommands returns the commands embedded in a reply, in order. Each
// fenced block (``` or ~~~) whose info string names one of languages is one
// command. Empty and comment-only blocks are skipped; unterminated fences are
// ignored.
func ExtractCommands(reply string, languages []string) []string {
	allowed := make(map[string]bool, len(languages))
	for _, l := range languages {
		allowed[strings.ToLower(strings.TrimSpace(l))] = true
	}

	var (
		commands []string
		fence    string
		lang     string
		body     []string
		inBlock  bool
	)
	for _, raw := range strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if !inBlock {
			marker := openingFence(line)
			if marker == "" {
				continue
			}
			fence = marker
			info := strings.TrimSpace(strings.TrimLeft(line, marker[:1]))
			lang = ""
			if fields := strings.Fields(info); len(fields) > 0 {
				lang = strings.ToLower(strings.Trim(fields[0], "{}."))
			}
			body = body[:0]
			inBlock = true
			continue
		}
		if isClosingFence(line, fence) {
			inBlock = false
			if !allowed[lang] {
				continue
			}
			if cmd := blockCommand(body); cmd != "" {
				commands = append(commands, cmd)
			}
			continue
		}
		body = append(body, strings.TrimRight(raw, " \t"))
	}
	return commands
}

func openingFence(line string) string {
	for _, ch := range []string{"`", "~"} {
		n := 0
		for n < len(line) && line[n] == ch[0] {
			n++
		}
		if n >= 3 {
			return line[:n]
		}
	}
	return ""
}

func isClosingFence(line, fence string) bool {
	if len(line) < len(fence) || line[0] != fence[0] {
		return false
	}
	return strings.Trim(line, fence[:1]) == ""
}

// blockCommand turns the block body into one command string. When some lines
// carry a prompt prefix the others are treated as sample output.
func blockCommand(lines []string) string {
	prompted := false
	for _, l := range lines {
		if _, ok := stripPrompt(l); ok {
			prompted = true
			break
		}
	}

	var kept []string
	meaningful := false
	for _, l := range lines {
		if prompted {
			stripped, ok := stripPrompt(l)
			if !ok {
				continue
			}
			l = stripped
		}
		trimmed := strings.TrimSpace(l)
		if trimmed != "" && !isComment(trimmed) {
			meaningful = true
		}
		kept = append(kept, l)
	}
	if !meaningful {
		return ""
	}
	return strings.TrimSpace(dedent(kept))
}

func stripPrompt(line string) (string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	for _, p := range promptPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return strings.TrimPrefix(trimmed, p), true
		}
	}
	return line, false
}

func isComment(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "::") || strings.HasPrefix(lower, "rem ") || lower == "rem"
}

// dedent removes the common leading indentation of non-empty lines.
func dedent(lines []string) string {
	prefix := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if prefix < 0 || n < prefix {
			prefix = n
		}
	}
	if prefix <= 0 {
		return strings.Join(lines, "\n")
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if len(l) >= prefix {
			out[i] = l[prefix:]
		} else {
			out[i] = strings.TrimSpace(l)
		}
	}
	return strings.Join(out, "\n")
}
