package promptgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/packetsched/packetsched/internal/taskmodel"
)

// PromptInput is everything the Worker Supervisor knows about a task at
// the moment it renders a new attempt's prompt.
type PromptInput struct {
	TaskID             string
	PacketPath         string
	SatisfiedDeps      []string
	Profile            taskmodel.ModelProfile
	Attempts           int
	LastError          string
	AllowedFiles       []string
	ValidationCommands []string
}

// RenderPrompt builds the worker-facing prompt text: task id, packet path,
// satisfied dependencies, target profile, an optional previous-failure
// block (present only when this is a retry), the sorted allowed-file set,
// the ordered validation commands, and a fixed required-return-format
// footer.
func RenderPrompt(in PromptInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n", in.TaskID)
	fmt.Fprintf(&b, "Packet: %s\n", in.PacketPath)

	if len(in.SatisfiedDeps) > 0 {
		deps := append([]string(nil), in.SatisfiedDeps...)
		sort.Strings(deps)
		fmt.Fprintf(&b, "Satisfied dependencies: %s\n", strings.Join(deps, ", "))
	}

	fmt.Fprintf(&b, "Target model profile: %s (%s)\n", in.Profile.Model, in.Profile.Reasoning)

	if in.Attempts > 1 && strings.TrimSpace(in.LastError) != "" {
		fmt.Fprintf(&b, "\nPrevious attempt failed:\n%s\n", in.LastError)
	}

	allowed := append([]string(nil), in.AllowedFiles...)
	sort.Strings(allowed)
	b.WriteString("\nAllowed files:\n")
	for _, f := range allowed {
		fmt.Fprintf(&b, "  - %s\n", f)
	}

	b.WriteString("\nValidation commands (must all pass, in order):\n")
	for i, cmd := range in.ValidationCommands {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, cmd)
	}

	b.WriteString("\nRequired return format:\n")
	b.WriteString("  Make only the changes necessary within the allowed files above.\n")
	b.WriteString("  Do not touch any file outside that set.\n")
	b.WriteString("  Ensure every validation command listed above passes before exiting.\n")

	return b.String()
}
