package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"agentsched/internal/platform"
	"agentsched/internal/schedule"
	"agentsched/internal/store"
	logx "agentsched/pkg/logx"
)

// Outcome is the terminal state of one dispatch attempt.
type Outcome string

const (
	// OutcomeSent: the message was accepted by the platform.
	OutcomeSent Outcome = "sent"
	// OutcomeSendFailed: the platform rejected or failed the send. For
	// recurring schedules this also deletes the schedule.
	OutcomeSendFailed Outcome = "send-failed"
	// OutcomeScheduleGone: the record vanished between due-check and claim.
	// A normal race (tenant delete, or another sweep won), not an error.
	OutcomeScheduleGone Outcome = "schedule-gone"
	// OutcomeLockFailed: claiming the schedule hit an I/O error. Fail closed:
	// no send happens; skipping a firing beats risking a duplicate.
	OutcomeLockFailed Outcome = "lock-failed"
	// OutcomeInFlight: another dispatch of the same schedule is still running
	// in this process (overlapping sweeps); this one stands down.
	OutcomeInFlight Outcome = "in-flight"
	// OutcomeNotDue: the re-read record is no longer due (another sweep
	// already advanced it).
	OutcomeNotDue Outcome = "not-due"
)

// Dispatcher executes one schedule instance at a time per schedule id.
type Dispatcher struct {
	store    *store.Store
	client   platform.Client
	recorder *Recorder
	log      logx.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(st *store.Store, client platform.Client, rec *Recorder, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		store:    st,
		client:   client,
		recorder: rec,
		log:      log,
		inflight: map[string]struct{}{},
	}
}

// begin takes the process-local claim for a schedule id. This closes the
// overlapping-sweep window for recurring schedules within one process;
// cross-process coordination stays with the store.
func (d *Dispatcher) begin(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Dispatcher) end(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// Recurring dispatches one recurring schedule instance.
//
// Claim = rewrite last_run before sending. Weaker than the one-time delete
// lock, but sweeps are sequential per process and the in-flight set covers
// overlap within it.
func (d *Dispatcher) Recurring(ctx context.Context, rec schedule.Recurring, now time.Time) Outcome {
	log := d.log.With(logx.String("schedule_id", rec.ID), logx.String("kind", string(schedule.KindRecurring)))

	if !d.begin(rec.ID) {
		log.Debug("dispatch already in flight; standing down")
		return OutcomeInFlight
	}
	defer d.end(rec.ID)

	// Re-read: the listed copy may be stale (tenant edit/delete since the sweep).
	cur, err := d.store.GetRecurring(rec.Credential, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("schedule gone before claim")
		return OutcomeScheduleGone
	}
	if err != nil {
		log.Error("claim read failed", logx.Err(err))
		return OutcomeLockFailed
	}

	due, err := schedule.RecurringDue(cur, now)
	if err != nil {
		log.Error("stored cron expression no longer parses", logx.Err(err))
		return OutcomeLockFailed
	}
	if !due {
		log.Debug("no longer due after re-read")
		return OutcomeNotDue
	}

	// Advance last_run before sending. Monotonic: never move it backwards.
	lastRun := now.UTC()
	if cur.LastRun != nil && cur.LastRun.After(lastRun) {
		lastRun = *cur.LastRun
	}
	cur.LastRun = &lastRun
	if err := d.store.PutRecurring(cur); err != nil {
		log.Error("claim write failed; not sending", logx.Err(err))
		return OutcomeLockFailed
	}

	runID, err := d.client.Send(ctx, cur.AgentID, cur.Credential, cur.Message, cur.Role)
	if err != nil {
		log.Warn("send failed; terminating recurring schedule", logx.Err(err))
		d.recorder.failure(cur.Credential, schedule.KindRecurring, cur.ID, cur.AgentID, cur.Message, err)
		if _, derr := d.store.DeleteRecurring(cur.Credential, cur.ID); derr != nil {
			log.Error("failed to delete recurring schedule after send failure", logx.Err(derr))
		}
		return OutcomeSendFailed
	}

	d.recorder.success(cur.Credential, schedule.KindRecurring, cur.ID, cur.AgentID, cur.Message, runID)
	log.Info("dispatched", logx.String("run_id", runID), logx.String("agent_id", cur.AgentID))
	return OutcomeSent
}

// OneTime dispatches one one-time schedule instance.
//
// Claim = delete before send. The record's existence is the only "not yet
// run" signal, so whoever deletes it owns the firing; everyone else sees
// NotFound and stops. A duplicate send is worse than a missed one here.
func (d *Dispatcher) OneTime(ctx context.Context, ot schedule.OneTime) Outcome {
	log := d.log.With(logx.String("schedule_id", ot.ID), logx.String("kind", string(schedule.KindOneTime)))

	if !d.begin(ot.ID) {
		log.Debug("dispatch already in flight; standing down")
		return OutcomeInFlight
	}
	defer d.end(ot.ID)

	// Re-read by the derived path; execute_at from the listed copy is what
	// makes the path derivable at all.
	cur, err := d.store.GetOneTime(ot.Credential, ot.ExecuteAt, ot.ID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("schedule gone before claim")
		return OutcomeScheduleGone
	}
	if err != nil {
		log.Error("claim read failed", logx.Err(err))
		return OutcomeLockFailed
	}

	existed, err := d.store.DeleteOneTime(cur.Credential, cur.ExecuteAt, cur.ID)
	if err != nil {
		log.Error("claim delete failed; not sending", logx.Err(err))
		return OutcomeLockFailed
	}
	if !existed {
		log.Debug("lost claim race")
		return OutcomeScheduleGone
	}

	runID, err := d.client.Send(ctx, cur.AgentID, cur.Credential, cur.Message, cur.Role)
	if err != nil {
		// Already deleted in the claim step; it cannot fire again.
		log.Warn("send failed", logx.Err(err))
		d.recorder.failure(cur.Credential, schedule.KindOneTime, cur.ID, cur.AgentID, cur.Message, err)
		return OutcomeSendFailed
	}

	d.recorder.success(cur.Credential, schedule.KindOneTime, cur.ID, cur.AgentID, cur.Message, runID)
	log.Info("dispatched", logx.String("run_id", runID), logx.String("agent_id", cur.AgentID))
	return OutcomeSent
}
