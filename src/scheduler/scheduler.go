// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

// Package scheduler runs periodic tasks inside the server process:
// scheduled folder backups, history pruning and rate limiter cleanup.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type TaskStatus string

const (
	StatusPending  TaskStatus = "pending"
	StatusRunning  TaskStatus = "running"
	StatusComplete TaskStatus = "complete"
	StatusFailed   TaskStatus = "failed"
)

type Task struct {
	ID       string
	Name     string
	Schedule string
	Enabled  bool
	// Zero means no limit besides the scheduler's own lifetime
	Timeout time.Duration
	Handler func(ctx context.Context) error

	mu         sync.Mutex
	cronExpr   *CronExpr
	lastRun    time.Time
	nextRun    time.Time
	lastStatus TaskStatus
	lastError  string
	runCount   int64
	failCount  int64
}

// TaskInfo is a snapshot of a task's state.
type TaskInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Enabled    bool       `json:"enabled"`
	LastRun    time.Time  `json:"last_run"`
	NextRun    time.Time  `json:"next_run"`
	LastStatus TaskStatus `json:"last_status"`
	LastError  string     `json:"last_error,omitempty"`
	RunCount   int64      `json:"run_count"`
	FailCount  int64      `json:"fail_count"`
}

type Config struct {
	// IANA name, empty uses the local zone
	Timezone string
	// Called after every run
	OnResult func(task TaskInfo, took time.Duration, err error)
}

type Scheduler struct {
	config   Config
	location *time.Location

	mu      sync.RWMutex
	tasks   map[string]*Task
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now  func() time.Time
	tick time.Duration
}

func New(cfg Config) *Scheduler {
	loc := time.Local
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}

	return &Scheduler{
		config:   cfg,
		location: loc,
		tasks:    make(map[string]*Task),
		now:      time.Now,
		tick:     time.Second,
	}
}

func (s *Scheduler) AddTask(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Handler == nil {
		return fmt.Errorf("task handler is required")
	}

	expr, err := ParseCron(task.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule for task %s: %w", task.ID, err)
	}

	task.mu.Lock()
	task.cronExpr = expr
	task.nextRun = expr.Next(s.now().In(s.location))
	task.lastStatus = StatusPending
	task.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("duplicate task ID: %s", task.ID)
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *Scheduler) RemoveTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	delete(s.tasks, id)
	return nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()

	return nil
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDue(s.now())
		}
	}
}

func (s *Scheduler) runDue(now time.Time) {
	s.mu.RLock()
	var due []*Task
	for _, task := range s.tasks {
		task.mu.Lock()
		if task.Enabled && task.lastStatus != StatusRunning && !task.nextRun.IsZero() && !now.Before(task.nextRun) {
			task.lastStatus = StatusRunning
			due = append(due, task)
		}
		task.mu.Unlock()
	}
	ctx := s.ctx
	s.mu.RUnlock()

	for _, task := range due {
		s.wg.Add(1)
		go func(task *Task) {
			defer s.wg.Done()
			s.execute(ctx, task)
		}(task)
	}
}

func (s *Scheduler) execute(ctx context.Context, task *Task) {
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	start := s.now()
	err := task.Handler(ctx)
	took := s.now().Sub(start)

	task.mu.Lock()
	task.lastRun = start
	task.runCount++
	if err != nil {
		task.lastStatus = StatusFailed
		task.lastError = err.Error()
		task.failCount++
	} else {
		task.lastStatus = StatusComplete
		task.lastError = ""
	}
	task.nextRun = task.cronExpr.Next(s.now().In(s.location))
	task.mu.Unlock()

	if s.config.OnResult != nil {
		s.config.OnResult(task.Info(), took, err)
	}
}

// RunNow runs a task immediately in the background.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	task, ok := s.tasks[id]
	ctx := s.ctx
	running := s.running
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	if !running {
		return fmt.Errorf("scheduler not running")
	}

	task.mu.Lock()
	if task.lastStatus == StatusRunning {
		task.mu.Unlock()
		return fmt.Errorf("task %s is already running", id)
	}
	task.lastStatus = StatusRunning
	task.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(ctx, task)
	}()
	return nil
}

func (task *Task) Info() TaskInfo {
	task.mu.Lock()
	defer task.mu.Unlock()

	return TaskInfo{
		ID:         task.ID,
		Name:       task.Name,
		Schedule:   task.Schedule,
		Enabled:    task.Enabled,
		LastRun:    task.lastRun,
		NextRun:    task.nextRun,
		LastStatus: task.lastStatus,
		LastError:  task.lastError,
		RunCount:   task.runCount,
		FailCount:  task.failCount,
	}
}

// Tasks returns a snapshot of every task sorted by ID.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskInfo, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
