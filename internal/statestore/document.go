// Package statestore implements the State Store: bit-exact serialization
// of the full runtime (tasks + orchestrator + quota) to a single JSON
// document, and the resume/restore overlay onto a freshly loaded task set.
//
// Grounded on control_plane/store/types.go's json-tagged wire structs for
// the document shape, and on the teacher's "replace the whole file"
// persistence style generalized here into an explicit
// temp-file-then-rename atomic writer (see atomic.go) per the teacher's own
// design-notes discipline around crash-safety.
package statestore

import (
	"sort"
	"time"

	"github.com/packetsched/packetsched/internal/runtimestate"
	"github.com/packetsched/packetsched/internal/taskmodel"
)

// ProfileDoc mirrors one ladder rung in the state file.
type ProfileDoc struct {
	Model     string `json:"model"`
	Reasoning string `json:"reasoning"`
}

// OrchestratorDoc is the process-wide quota block.
type OrchestratorDoc struct {
	QuotaCooldownUntil  int64  `json:"quota_cooldown_until"`
	QuotaLastDetectedAt *int64 `json:"quota_last_detected_at"`
	QuotaFailuresTotal  int    `json:"quota_failures_total"`
}

// SummaryDoc is the status-count rollup.
type SummaryDoc struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Blocked   int `json:"blocked"`
}

// TaskDoc is one task's persisted runtime snapshot.
type TaskDoc struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	ProfileIndex int        `json:"profile_index"`
	Profile      ProfileDoc `json:"profile"`
	DependsOn    []string   `json:"depends_on"`

	CompileFailuresTotal int `json:"compile_failures_total"`
	RuntimeFailuresTotal int `json:"runtime_failures_total"`
	QuotaFailuresTotal   int `json:"quota_failures_total"`
	OtherFailuresTotal   int `json:"other_failures_total"`

	LastFailureKind string `json:"last_failure_kind"`
	LastError       string `json:"last_error"`
	BlockReason     string `json:"block_reason"`

	WorktreePath string `json:"worktree_path"`
	BranchName   string `json:"branch_name"`
	PromptFile   string `json:"prompt_file"`
	LogFile      string `json:"log_file"`

	NextEligibleAt   *int64   `json:"next_eligible_at"`
	LastChangedFiles []string `json:"last_changed_files"`
	PID              int      `json:"pid"`
}

// Document is the full bit-exact state file.
type Document struct {
	UpdatedAt    string          `json:"updated_at"`
	Profiles     []ProfileDoc    `json:"profiles"`
	Orchestrator OrchestratorDoc `json:"orchestrator"`
	Summary      SummaryDoc      `json:"summary"`
	Tasks        []TaskDoc       `json:"tasks"`
}

// Build assembles a Document from the live runtime, sorting tasks by id
// for stable diffs.
func Build(ladder taskmodel.Ladder, tasks map[string]*taskmodel.TaskSpec, runtimes map[string]*runtimestate.TaskRuntime, quota *runtimestate.QuotaRuntime, now time.Time) Document {
	doc := Document{
		UpdatedAt: now.UTC().Format(time.RFC3339),
	}
	for _, p := range ladder {
		doc.Profiles = append(doc.Profiles, ProfileDoc{Model: p.Model, Reasoning: string(p.Reasoning)})
	}

	var lastDetected *int64
	if quota.LastDetectedAt != 0 {
		v := quota.LastDetectedAt
		lastDetected = &v
	}
	doc.Orchestrator = OrchestratorDoc{
		QuotaCooldownUntil:  quota.CooldownUntil,
		QuotaLastDetectedAt: lastDetected,
		QuotaFailuresTotal:  quota.TotalFailures,
	}

	ids := make([]string, 0, len(runtimes))
	for id := range runtimes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rt := runtimes[id]
		spec := tasks[id]
		prof := ladder.At(rt.ProfileIndex)

		var nextEligible *int64
		if rt.NextEligibleAt != 0 {
			v := rt.NextEligibleAt
			nextEligible = &v
		}

		td := TaskDoc{
			ID:                   rt.TaskID,
			Status:               string(rt.Status),
			Attempts:             rt.Attempts,
			ProfileIndex:         rt.ProfileIndex,
			Profile:              ProfileDoc{Model: prof.Model, Reasoning: string(prof.Reasoning)},
			CompileFailuresTotal: rt.CompileFailuresTotal,
			RuntimeFailuresTotal: rt.RuntimeFailuresTotal,
			QuotaFailuresTotal:   rt.QuotaFailuresTotal,
			OtherFailuresTotal:   rt.OtherFailuresTotal,
			LastFailureKind:      string(rt.LastFailureKind),
			LastError:            rt.LastError,
			BlockReason:          rt.BlockReason,
			WorktreePath:         rt.WorktreePath,
			BranchName:           rt.BranchName,
			PromptFile:           rt.PromptFile,
			LogFile:              rt.LogFile,
			NextEligibleAt:       nextEligible,
			LastChangedFiles:     rt.LastChangedFiles,
			PID:                  rt.PID,
		}
		if spec != nil {
			td.DependsOn = spec.DependsOn
		}

		switch rt.Status {
		case runtimestate.StatusPending:
			doc.Summary.Pending++
		case runtimestate.StatusRunning:
			doc.Summary.Running++
		case runtimestate.StatusCompleted:
			doc.Summary.Completed++
		case runtimestate.StatusBlocked:
			doc.Summary.Blocked++
		}

		doc.Tasks = append(doc.Tasks, td)
	}
	return doc
}
