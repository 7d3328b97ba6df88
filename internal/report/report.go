// Package report implements the `--report` mode: a compact text view of
// the state file, read independently of any live process.
//
// Grounded on original_source's scheduler_report.py (the distilled spec
// names --report but does not spell out its rendering; the original shows
// a summary line, then blocked tasks, then recent errors) and on the
// teacher's GetSnapshot/GetMetrics debug-endpoint style
// (control_plane/scheduler/scheduler.go), generalized from JSON-over-HTTP
// to a plain io.Writer so it can back a CLI flag instead of an endpoint.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/packetsched/packetsched/internal/statestore"
)

// maxRecentErrors bounds how many distinct task errors are listed, per
// spec.md §7's "up to 20 most recent task errors".
const maxRecentErrors = 20

// Render reads the state file at stateFilePath and the event log at
// eventLogPath and writes the compact report to w.
func Render(w io.Writer, stateFilePath, eventLogPath string) error {
	doc, err := statestore.Load(stateFilePath)
	if err != nil {
		return fmt.Errorf("report: load state: %w", err)
	}

	fmt.Fprintf(w, "summary: pending=%d running=%d completed=%d blocked=%d\n",
		doc.Summary.Pending, doc.Summary.Running, doc.Summary.Completed, doc.Summary.Blocked)

	blocked := make([]statestore.TaskDoc, 0)
	for _, td := range doc.Tasks {
		if td.Status == "blocked" {
			blocked = append(blocked, td)
		}
	}
	sort.Slice(blocked, func(i, j int) bool { return blocked[i].ID < blocked[j].ID })

	if len(blocked) > 0 {
		fmt.Fprintln(w, "\nblocked tasks:")
		for _, td := range blocked {
			fmt.Fprintf(w, "  %s (attempts=%d): %s\n", td.ID, td.Attempts, td.BlockReason)
		}
	}

	recent, err := recentErrors(eventLogPath, maxRecentErrors)
	if err != nil {
		return fmt.Errorf("report: read event log: %w", err)
	}
	if len(recent) > 0 {
		fmt.Fprintln(w, "\nrecent task errors:")
		for _, line := range recent {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}

type eventRecord struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// recentErrors scans the event log in reverse order for task_retry and
// task_blocked events and returns up to max distinct lines, most recent
// first.
func recentErrors(path string, max int) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []eventRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec eventRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Event == "task_retry" || rec.Event == "task_blocked" {
			all = append(all, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for i := len(all) - 1; i >= 0 && len(out) < max; i-- {
		rec := all[i]
		key := rec.TaskID + "|" + rec.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, fmt.Sprintf("%s: %s", rec.Event, rec.Message))
	}
	return out, nil
}
