// Package promptgen renders the worker prompt and the worker command line
// from the task's current attempt context.
//
// Grounded on the teacher's template-free exec.Command("sh", "-c", …)
// invocation style in fluxforge/agent/executor.go — the template itself is
// new (the teacher never parameterizes its command string), built with the
// standard library's regexp/strings substitution idiom since no template
// library appears anywhere in the pack.
package promptgen

import (
	"fmt"
	"regexp"
)

// CommandFields are the raw (unquoted) placeholder values available to a
// worker command template.
type CommandFields struct {
	TaskID     string
	Model      string
	Reasoning  string
	Worktree   string
	PromptFile string
	LogFile    string
	PacketPath string
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

// RenderCommand substitutes {task_id}, {model}, {reasoning}, {worktree},
// {prompt_file}, {log_file}, {packet_path} and their *_q shell-quoted
// variants into template. Any other placeholder is a fatal diagnostic.
func RenderCommand(template string, f CommandFields) (string, error) {
	values := map[string]string{
		"task_id":       f.TaskID,
		"model":         f.Model,
		"reasoning":     f.Reasoning,
		"worktree":      f.Worktree,
		"prompt_file":   f.PromptFile,
		"log_file":      f.LogFile,
		"packet_path":   f.PacketPath,
		"task_id_q":     shellQuote(f.TaskID),
		"model_q":       shellQuote(f.Model),
		"reasoning_q":   shellQuote(f.Reasoning),
		"worktree_q":    shellQuote(f.Worktree),
		"prompt_file_q": shellQuote(f.PromptFile),
		"log_file_q":    shellQuote(f.LogFile),
		"packet_path_q": shellQuote(f.PacketPath),
	}

	var firstErr error
	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(tok string) string {
		name := tok[1 : len(tok)-1]
		v, ok := values[name]
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("promptgen: unknown placeholder %q in worker command template", tok)
			}
			return tok
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return rendered, nil
}
