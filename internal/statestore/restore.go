package statestore

import (
	"strings"

	"github.com/packetsched/packetsched/internal/runtimestate"
	"github.com/packetsched/packetsched/internal/taskmodel"
)

// Restore overlays doc's task entries onto a fresh runtime map (one
// runtimestate.TaskRuntime per id in taskSet, all at defaults), matched by
// id. Unknown ids in doc are ignored; ids missing from doc remain at
// defaults. Returns the overlaid runtime map and the restored QuotaRuntime.
func Restore(doc Document, taskSet *taskmodel.TaskSet, ladder taskmodel.Ladder) (map[string]*runtimestate.TaskRuntime, *runtimestate.QuotaRuntime) {
	runtimes := make(map[string]*runtimestate.TaskRuntime, taskSet.Len())
	for _, id := range taskSet.IDs() {
		runtimes[id] = runtimestate.NewTaskRuntime(id)
	}

	for _, td := range doc.Tasks {
		rt, ok := runtimes[td.ID]
		if !ok {
			continue // unknown id in the file: ignored
		}
		applyTaskDoc(rt, td, ladder)
	}

	quota := &runtimestate.QuotaRuntime{
		CooldownUntil: doc.Orchestrator.QuotaCooldownUntil,
		TotalFailures: doc.Orchestrator.QuotaFailuresTotal,
	}
	if doc.Orchestrator.QuotaLastDetectedAt != nil {
		quota.LastDetectedAt = *doc.Orchestrator.QuotaLastDetectedAt
	}
	return runtimes, quota
}

func applyTaskDoc(rt *runtimestate.TaskRuntime, td TaskDoc, ladder taskmodel.Ladder) {
	rt.Status = runtimestate.Status(td.Status)
	rt.Attempts = td.Attempts
	rt.CompileFailuresTotal = td.CompileFailuresTotal
	rt.RuntimeFailuresTotal = td.RuntimeFailuresTotal
	rt.QuotaFailuresTotal = td.QuotaFailuresTotal
	rt.OtherFailuresTotal = td.OtherFailuresTotal
	rt.LastFailureKind = runtimestate.FailureKind(td.LastFailureKind)
	rt.LastError = td.LastError
	rt.BlockReason = td.BlockReason
	rt.WorktreePath = td.WorktreePath
	rt.BranchName = td.BranchName
	rt.PromptFile = td.PromptFile
	rt.LogFile = td.LogFile
	rt.LastChangedFiles = td.LastChangedFiles
	rt.PID = td.PID
	if td.NextEligibleAt != nil {
		rt.NextEligibleAt = *td.NextEligibleAt
	}

	if idx := ladder.IndexOf(td.Profile.Model, taskmodel.NormalizeReasoning(td.Profile.Reasoning)); idx >= 0 {
		rt.ProfileIndex = idx
	} else {
		rt.ProfileIndex = ladder.Clamp(td.ProfileIndex)
	}

	if rt.Status == runtimestate.StatusRunning {
		rt.Status = runtimestate.StatusPending
		rt.LastFailureKind = runtimestate.KindInfra
		note := `previous worker is not attached (stale 'running' state)`
		if strings.TrimSpace(rt.LastError) == "" {
			rt.LastError = note
		} else {
			rt.LastError = rt.LastError + "; " + note
		}
	}
}
