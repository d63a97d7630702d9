// Package diagnose turns raw command failures into typed classifications
// and renders batch feedback for the model.
package diagnose

import "strings"

// Kind is a failure classification.
type Kind string

const (
	PathNotFound     Kind = "path-not-found"
	CommandNotFound  Kind = "command-not-found"
	PermissionDenied Kind = "permission-denied"
	SyntaxError      Kind = "syntax-error"
	Timeout          Kind = "timeout"
	InvalidParameter Kind = "invalid-parameter"
	Unknown          Kind = "unknown"
)

// Diagnosis is the derived classification for one failed command.
type Diagnosis struct {
	Kind Kind
	Hint string
}

// Rule is one row of the classification table. Match receives the lowercased
// stderr and error text joined by a newline, and the raw command.
type Rule struct {
	Match func(text, command string) bool
	Kind  Kind
	Hint  string
}

// contains builds a predicate matching any of the given lowercase phrases.
func contains(phrases ...string) func(string, string) bool {
	return func(text, _ string) bool {
		for _, p := range phrases {
			if strings.Contains(text, p) {
				return true
			}
		}
		return false
	}
}

// DefaultRules is evaluated top to bottom; the first match wins.
var DefaultRules = []Rule{
	{
		Match: contains("cannot find path", "no such file or directory", "path does not exist",
			"could not find a part of the path", "cannot find the path", "itemnotfoundexception",
			"pathnotfound", "does not exist", "not a directory"),
		Kind: PathNotFound,
		Hint: "Inspect the current directory (list its contents) and verify the path before retrying. Use paths relative to the working directory shown above.",
	},
	{
		Match: contains("is not recognized", "command not found", "commandnotfoundexception",
			"executable file not found", "not recognized as an internal or external command",
			"unknown command", "no such command", ": not found", "exit status 127"),
		Kind: CommandNotFound,
		Hint: "The program is not installed or not on PATH. Check availability first (e.g. `which` / `Get-Command`), use an alternative tool, or install it.",
	},
	{
		Match: contains("permission denied", "access is denied", "access to the path",
			"unauthorizedaccessexception", "operation not permitted", "eacces", "eperm"),
		Kind: PermissionDenied,
		Hint: "The current user lacks access. Work inside the project directory or a writable location instead of escalating privileges.",
	},
	{
		Match: contains("syntax error", "unexpected token", "parsererror", "missing terminator",
			"unexpected end of file", "unterminated", "parse error", "unexpected eof"),
		Kind: SyntaxError,
		Hint: "The command line is malformed for this shell. Check quoting, escaping and operators for the active shell dialect.",
	},
	{
		Match: contains("timed out", "timeout", "deadline exceeded"),
		Kind:  Timeout,
		Hint:  "The command took too long. Run a smaller step, add non-interactive flags, or avoid commands that wait for input or run forever.",
	},
	{
		Match: contains("a parameter cannot be found", "invalid argument", "invalid option",
			"unrecognized option", "unknown flag", "unknown option", "illegal option",
			"parameterbindingexception", "invalid parameter", "usage:"),
		Kind: InvalidParameter,
		Hint: "An argument or flag is not accepted. Check the command's help output for the supported options and their syntax.",
	},
}

const unknownHint = "Read the error output carefully, check your assumptions about the environment, and try a different approach instead of the same command."

// Classifier matches failures against an ordered rule table.
type Classifier struct {
	rules []Rule
}

// NewClassifier returns a classifier over rules; nil means DefaultRules.
func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Classify maps a failure to its Diagnosis. Unmatched text yields Unknown.
func (c *Classifier) Classify(stderr, errMsg, command string) Diagnosis {
	text := strings.ToLower(stderr + "\n" + errMsg)
	for _, r := range c.rules {
		if r.Match(text, command) {
			return Diagnosis{Kind: r.Kind, Hint: r.Hint}
		}
	}
	return Diagnosis{Kind: Unknown, Hint: unknownHint}
}

// Classify uses DefaultRules.
func Classify(stderr, errMsg, command string) Diagnosis {
	return defaultClassifier.Classify(stderr, errMsg, command)
}

var defaultClassifier = NewClassifier(nil)
