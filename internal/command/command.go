// Package command maps free-form recognized speech to a closed set of intents.
package command

import "strings"

// Command is a normalized user intent.
type Command int

const (
	None Command = iota
	Resume
	Quit
	Summary
)

func (c Command) String() string {
	switch c {
	case Resume:
		return "resume"
	case Quit:
		return "quit"
	case Summary:
		return "summary"
	default:
		return "none"
	}
}

// Table order is the tie-break when several rows match one utterance.
var table = []struct {
	command  Command
	variants []string
}{
	{Resume, []string{"resume", "continue", "start"}},
	{Quit, []string{"quit", "exit", "end", "read", "detect", "stop"}},
	{Summary, []string{"summary", "summarize", "summarise"}},
}

// Normalize returns the first command whose accepted substrings occur anywhere
// in the lower-cased, trimmed text, or None.
func Normalize(text string) Command {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return None
	}
	for _, row := range table {
		for _, v := range row.variants {
			if strings.Contains(text, v) {
				return row.command
			}
		}
	}
	return None
}
