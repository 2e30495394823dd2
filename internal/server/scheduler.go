package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/studygen/studygen/internal/store"
)

// Scheduler regenerates artifacts for topics that carry a cron schedule.
// When Rdb is set a SetNX lock keeps multiple replicas from running the
// same topic in the same window.
type Scheduler struct {
	Store  *store.Store
	Runner *AgentRunner
	Rdb    *redis.Client
	Stop   chan struct{}

	logger *log.Logger
}

func NewScheduler(st *store.Store, runner *AgentRunner, rdb *redis.Client) *Scheduler {
	return &Scheduler{
		Store:  st,
		Runner: runner,
		Rdb:    rdb,
		Stop:   make(chan struct{}),
		logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

func (s *Scheduler) Start() {
	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	s.tick(time.Now())
	for {
		select {
		case <-s.Stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	topics, err := s.Store.ListScheduledTopics(ctx)
	if err != nil {
		s.logger.Printf("list scheduled topics: %v", err)
		return
	}
	for _, t := range topics {
		if !s.isDue(ctx, t, now) {
			continue
		}
		if !store.TryLock(ctx, s.Rdb, "sched:lock:"+t.ID, time.Hour) {
			continue
		}
		topicID := t.ID
		runID, err := s.Runner.StartStructured(t.UserID, t.Outline, &topicID)
		if err != nil {
			s.logger.Printf("topic %s: start run: %v", t.ID, err)
			continue
		}
		s.logger.Printf("topic %s: started run %s", t.ID, runID)
	}
}

func (s *Scheduler) isDue(ctx context.Context, t store.Topic, now time.Time) bool {
	last, err := s.Store.LatestRunTime(ctx, t.ID)
	if err != nil {
		s.logger.Printf("topic %s: latest run time: %v", t.ID, err)
		return false
	}
	if last == nil {
		return true
	}
	switch t.ScheduleCron {
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	case "@daily":
		return now.Sub(*last) >= 24*time.Hour
	}
	expr, err := cronexpr.Parse(t.ScheduleCron)
	if err != nil {
		s.logger.Printf("topic %s: bad cron %q: %v", t.ID, t.ScheduleCron, err)
		return false
	}
	next := expr.Next(*last)
	return !next.IsZero() && !next.After(now)
}
