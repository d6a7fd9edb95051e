package hand

import (
	"path/filepath"

	"github.com/suryarastogi/helping-hands-sub000/pkg/eventlog"
	"github.com/suryarastogi/helping-hands-sub000/pkg/logx"
	"github.com/suryarastogi/helping-hands-sub000/pkg/persistence"
	"github.com/suryarastogi/helping-hands-sub000/pkg/workspace"
)

// runLog bundles the per-run record store and transcript writer. Both are
// best-effort: a workspace where the data directory cannot be created still
// gets its run executed, just not recorded. All methods are nil-safe.
type runLog struct {
	store  *persistence.Store
	events *eventlog.Writer
	logger *logx.Logger
}

// openRunLog opens the record store and transcript writer under the
// workspace data directory.
func openRunLog(ws *workspace.Workspace, dataDir string, logger *logx.Logger) *runLog {
	rl := &runLog{logger: logger}

	dir, err := ws.EnsureDataDir(dataDir)
	if err != nil {
		logger.Warn("data directory unavailable, run will not be recorded: %v", err)
		return rl
	}

	store, err := persistence.Open(filepath.Join(dir, persistence.RunsFilename))
	if err != nil {
		logger.Warn("run database unavailable: %v", err)
	} else {
		rl.store = store
	}

	events, err := eventlog.NewWriter(filepath.Join(dir, eventlog.TranscriptsDirname))
	if err != nil {
		logger.Warn("transcript writer unavailable: %v", err)
	} else {
		rl.events = events
	}

	return rl
}

func (rl *runLog) start(runID, prompt, backend, model string) {
	if rl.store == nil {
		return
	}
	if err := rl.store.RecordStart(runID, prompt, backend, model); err != nil {
		rl.logger.Warn("failed to record run start: %v", err)
	}
}

func (rl *runLog) finish(resp *Response) {
	if rl.store == nil {
		return
	}
	err := rl.store.RecordFinish(resp.Metadata.RunID, persistence.FinishUpdate{
		Success:     resp.Success,
		ReasonCode:  resp.Reason,
		Summary:     resp.Summary,
		Iterations:  resp.Metadata.Iterations,
		Interrupted: resp.Metadata.Interrupted,
		Branch:      resp.Metadata.Branch,
		PRURL:       resp.Metadata.PRURL,
	})
	if err != nil {
		rl.logger.Warn("failed to record run finish: %v", err)
	}
}

func (rl *runLog) event(e eventlog.Event) {
	if rl.events == nil {
		return
	}
	if err := rl.events.Write(e); err != nil {
		rl.logger.Warn("failed to write transcript event: %v", err)
	}
}

func (rl *runLog) close() {
	if rl.events != nil {
		_ = rl.events.Close()
	}
	if rl.store != nil {
		_ = rl.store.Close()
	}
}
