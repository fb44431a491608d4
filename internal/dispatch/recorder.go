package dispatch

import (
	"time"

	"agentsched/internal/schedule"
	"agentsched/internal/store"
	logx "agentsched/pkg/logx"
)

// Recorder persists execution results. One result per schedule id: a later
// attempt overwrites the earlier one, and the result survives deletion of
// the schedule that produced it.
type Recorder struct {
	store *store.Store
	log   logx.Logger
}

func NewRecorder(st *store.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: st, log: log}
}

func (r *Recorder) success(credential string, kind schedule.Kind, scheduleID, agentID, message, runID string) {
	r.put(credential, schedule.Result{
		ScheduleID:   scheduleID,
		ScheduleType: kind,
		Status:       schedule.StatusSuccess,
		AgentID:      agentID,
		Message:      message,
		ExecutedAt:   time.Now().UTC(),
		RunID:        runID,
	})
}

func (r *Recorder) failure(credential string, kind schedule.Kind, scheduleID, agentID, message string, sendErr error) {
	r.put(credential, schedule.Result{
		ScheduleID:   scheduleID,
		ScheduleType: kind,
		Status:       schedule.StatusFailed,
		AgentID:      agentID,
		Message:      message,
		ExecutedAt:   time.Now().UTC(),
		Error:        sendErr.Error(),
	})
}

// put never propagates: a result write failure must not change the dispatch
// outcome that already happened.
func (r *Recorder) put(credential string, res schedule.Result) {
	if err := r.store.PutResult(credential, res); err != nil {
		r.log.Error("failed to persist execution result",
			logx.String("schedule_id", res.ScheduleID),
			logx.String("status", string(res.Status)),
			logx.Err(err))
	}
}
