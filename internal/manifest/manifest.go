// Package manifest is the external collaborator that turns a manifest file
// plus a directory of packet documents into the taskmodel.TaskSet the core
// schedules. Per spec.md §1 this parsing step is explicitly out of scope
// for the core; this package exists only to make the CLI runnable end to
// end.
//
// Packet frontmatter parsing is grounded directly on
// C360Studio-semspec/source/parser/markdown.go's YAML-frontmatter
// extraction (the "---\n...\n---\n" delimited block followed by a body),
// reusing the same gopkg.in/yaml.v3 dependency the pack already carries
// for exactly this purpose.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/packetsched/packetsched/internal/taskmodel"
	"gopkg.in/yaml.v3"
)

// entry is one task record in the manifest JSON file.
type entry struct {
	ID                   string   `json:"id"`
	Packet               string   `json:"packet"`
	Backlog              string   `json:"backlog,omitempty"`
	DependsOn            []string `json:"depends_on,omitempty"`
	CanRunInParallelWith []string `json:"can_run_in_parallel_with,omitempty"` // advisory only; the core ignores this
}

type manifestFile struct {
	Tasks []entry `json:"tasks"`
}

type packetFrontmatter struct {
	AllowedFiles       []string `yaml:"allowed_files"`
	ValidationCommands []string `yaml:"validation_commands"`
}

// Load reads manifestPath, resolves each entry's packet document relative
// to repoRoot, and returns the resulting TaskSet. allowEmptyAllowedFiles
// mirrors --allow-empty-allowed-files: without it, a packet with no
// allowed_files is rejected at load time (the explicit escape hatch in
// §4.2 must be opted into).
func Load(manifestPath, repoRoot string, allowEmptyAllowedFiles bool) (*taskmodel.TaskSet, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", manifestPath, err)
	}
	var mf manifestFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", manifestPath, err)
	}

	var specs []*taskmodel.TaskSpec
	for _, e := range mf.Tasks {
		if e.ID == "" {
			return nil, fmt.Errorf("manifest: task entry missing id")
		}
		fm, err := loadPacket(filepath.Join(repoRoot, e.Packet))
		if err != nil {
			return nil, fmt.Errorf("manifest: task %s: %w", e.ID, err)
		}
		if len(fm.AllowedFiles) == 0 && !allowEmptyAllowedFiles {
			return nil, fmt.Errorf("manifest: task %s: packet %s declares no allowed_files (pass --allow-empty-allowed-files to opt in)", e.ID, e.Packet)
		}
		specs = append(specs, &taskmodel.TaskSpec{
			TaskID:             e.ID,
			PacketPath:         e.Packet,
			DependsOn:          e.DependsOn,
			AllowedFiles:       fm.AllowedFiles,
			ValidationCommands: fm.ValidationCommands,
		})
	}

	return taskmodel.NewTaskSet(specs)
}

func loadPacket(path string) (packetFrontmatter, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return packetFrontmatter{}, fmt.Errorf("read packet %s: %w", path, err)
	}
	str := string(content)
	if !strings.HasPrefix(str, "---\n") && !strings.HasPrefix(str, "---\r\n") {
		return packetFrontmatter{}, fmt.Errorf("packet %s has no frontmatter block", path)
	}

	start := len("---")
	for start < len(str) && (str[start] == '\n' || str[start] == '\r') {
		start++
	}
	closeIdx := strings.Index(str[start:], "\n---")
	if closeIdx == -1 {
		return packetFrontmatter{}, fmt.Errorf("packet %s has no closing frontmatter delimiter", path)
	}
	yamlContent := str[start : start+closeIdx]

	var fm packetFrontmatter
	if err := yaml.Unmarshal([]byte(yamlContent), &fm); err != nil {
		return packetFrontmatter{}, fmt.Errorf("parse frontmatter of %s: %w", path, err)
	}
	return fm, nil
}
