// Package scheduler provides cron-based periodic work for VendaFlow: the
// recovery sweep that picks up conversations whose turn job never ran, and
// requeue of jobs stranded by a crashed worker.
package scheduler

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vendaflow/vendaflow/internal/store"
	"github.com/vendaflow/vendaflow/internal/turn"
)

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler using the standard
// 5-field expression syntax, with panic recovery around jobs.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// DefaultIdleAfter is how long an unanswered inbound message may sit before
// the sweep considers its turn job lost. Comfortably above the settle delay
// plus engine latency.
const DefaultIdleAfter = 2 * time.Minute

// staleJobThreshold is how long a job may be running before the sweep
// assumes its worker died.
const staleJobThreshold = 5 * time.Minute

// Sweep recovers conversations whose scheduled turn never happened: enqueue
// failures at ingress, jobs lost to a crash before the queue insert, or
// terminal job failures.
type Sweep struct {
	store     store.Store
	jobs      store.JobRepo
	idleAfter time.Duration
}

// NewSweep creates a recovery sweep. idleAfter <= 0 uses the default.
func NewSweep(st store.Store, jobs store.JobRepo, idleAfter time.Duration) *Sweep {
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	return &Sweep{store: st, jobs: jobs, idleAfter: idleAfter}
}

// Run executes one sweep pass. Errors are logged, never fatal: the sweep
// runs again on the next tick.
func (s *Sweep) Run() {
	now := time.Now().UTC()

	if n, err := s.jobs.RequeueStaleRunningJobs(now.Add(-staleJobThreshold)); err != nil {
		slog.Error("Sweep.Run: stale job requeue failed", "error", err)
	} else if n > 0 {
		slog.Info("Sweep.Run: requeued stale jobs", "count", n)
	}

	convs, err := s.store.ListUnansweredConversations(now.Add(-s.idleAfter))
	if err != nil {
		slog.Error("Sweep.Run: unanswered lookup failed", "error", err)
		return
	}
	for _, conv := range convs {
		// Already swept once; wait for the lead or an operator.
		if conv.NeedsReengage {
			continue
		}
		payload, err := json.Marshal(turn.ProcessTurnPayload{ConversationID: conv.ID})
		if err != nil {
			slog.Error("Sweep.Run: payload encode failed", "conversationID", conv.ID, "error", err)
			continue
		}
		if _, err := s.jobs.EnqueueJob(store.JobKindProcessTurn, now, string(payload), "recover:"+conv.ID); err != nil {
			slog.Error("Sweep.Run: enqueue failed", "conversationID", conv.ID, "error", err)
			continue
		}
		if err := s.store.SetReengageFlag(conv.ID); err != nil {
			slog.Error("Sweep.Run: reengage flag update failed", "conversationID", conv.ID, "error", err)
		}
		slog.Info("Sweep.Run: recovered unanswered conversation", "conversationID", conv.ID)
	}
}
