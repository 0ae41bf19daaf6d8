package server

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/counselgraph/counselgraph/internal/orchestrator"
	"github.com/counselgraph/counselgraph/internal/store"
)

// Scheduler re-runs each matter's standing query on its cron schedule.
type Scheduler struct {
	Store  *store.Store
	Engine *orchestrator.Engine
	Rdb    *redis.Client
	Stop   chan struct{}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	logger := log.New(log.Writer(), "[SCHED] ", log.LstdFlags)

	matters, err := s.Store.ListMatters(ctx)
	if err != nil {
		logger.Printf("list matters: %v", err)
		return
	}
	for _, m := range matters {
		if m.ScheduleCron == "" || m.StandingQuery == "" {
			continue
		}
		last, _ := s.Store.LatestPlanTime(ctx, m.ID)
		if !isDue(m.ScheduleCron, last) {
			continue
		}

		// Distributed lock so clustered instances do not double-run.
		if s.Rdb != nil {
			lockKey := "cg:sched:lock:" + m.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		go func(m store.Matter) {
			// Jitter so a fleet starting on the same tick staggers its runs.
			time.Sleep(time.Duration(rand.Intn(30)) * time.Second)
			plan, _, err := s.Engine.Orchestrate(ctx, m.ID, m.StandingQuery, nil)
			if saveErr := s.Store.SavePlan(ctx, plan); saveErr != nil {
				logger.Printf("matter %s: save plan: %v", m.ID, saveErr)
			}
			if err != nil {
				logger.Printf("matter %s: scheduled run failed: %v", m.ID, err)
				return
			}
			logger.Printf("matter %s: scheduled run %s completed", m.ID, plan.ID)
		}(m)
	}
}

// isDue determines if a matter with cronSpec should run now based on the
// last plan time. Supports "@daily", "@hourly" and standard cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
