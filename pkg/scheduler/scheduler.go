// Package scheduler runs repository tasks: one serialized queue per managed
// repository, fed by cron schedules, the file watcher and API requests.
package scheduler

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/apache/archiva-sub036/pkg/types"
)

var ErrUnknownRepository = xerrors.New("unknown repository")

type Kind string

const (
	KindScan Kind = "scan"
	KindFile Kind = "file"
)

type Task struct {
	ID           string    `json:"id"`
	RepositoryID string    `json:"repositoryId"`
	Kind         Kind      `json:"kind"`
	Full         bool      `json:"full,omitempty"`
	Path         string    `json:"path,omitempty"`
	Queued       time.Time `json:"queued"`
}

// Executor performs the tasks of a repository.
type Executor interface {
	Scan(ctx context.Context, repo types.ManagedRepository, full bool) error
	ScanFile(ctx context.Context, repo types.ManagedRepository, path string) error
}

type Option struct {
	Repositories []types.ManagedRepository
	Executor     Executor
	Clock        clock.PassiveClock
}

type Scheduler struct {
	queues   map[string]*queue
	executor Executor
	clock    clock.PassiveClock
	cron     *cron.Cron
	logger   *slog.Logger
}

type queue struct {
	repo    types.ManagedRepository
	mu      sync.Mutex
	pending []*Task
	running *Task
	notify  chan struct{}
}

// New creates the queues and registers the refresh schedule of every
// repository. Cron specs use the Quartz format of the repository
// configuration: seconds first, `?` allowed and an optional year.
func New(opt Option) (*Scheduler, error) {
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}
	s := &Scheduler{
		queues:   make(map[string]*queue, len(opt.Repositories)),
		executor: opt.Executor,
		clock:    opt.Clock,
		cron:     cron.New(),
		logger:   slog.Default().With(slog.String("component", "scheduler")),
	}
	for _, repo := range opt.Repositories {
		s.queues[repo.ID] = &queue{repo: repo, notify: make(chan struct{}, 1)}
		if repo.RefreshCron == "" || !repo.Scanned {
			continue
		}
		schedule, err := ParseCron(repo.RefreshCron)
		if err != nil {
			return nil, xerrors.Errorf("repository %s: %w", repo.ID, err)
		}
		repoID := repo.ID
		s.cron.Schedule(schedule, cron.FuncJob(func() {
			if _, err := s.QueueScan(repoID, false); err != nil {
				s.logger.Error("Unable to queue scheduled scan", slog.String("repository", repoID), slog.Any("error", err))
			}
		}))
	}
	return s, nil
}

// ParseCron parses a Quartz style cron expression.
func ParseCron(spec string) (cron.Schedule, error) {
	fields := strings.Fields(spec)
	if len(fields) == 7 {
		fields = fields[:6] // year
	}
	schedule, err := cron.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, xerrors.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return schedule, nil
}

// Run starts the cron schedules and drains the queues until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	defer s.cron.Stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, q := range s.queues {
		g.Go(func() error {
			s.drain(ctx, q)
			return nil
		})
	}
	return g.Wait()
}

// QueueScan queues a scan of the repository unless one is already pending;
// a pending incremental scan is upgraded when full is set. It returns the id
// of the queued or pending task.
func (s *Scheduler) QueueScan(repoID string, full bool) (string, error) {
	q, ok := s.queues[repoID]
	if !ok {
		return "", xerrors.Errorf("%s: %w", repoID, ErrUnknownRepository)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.pending {
		if t.Kind == KindScan {
			t.Full = t.Full || full
			return t.ID, nil
		}
	}
	return q.push(&Task{ID: uuid.NewString(), RepositoryID: repoID, Kind: KindScan, Full: full, Queued: s.clock.Now()}), nil
}

// QueueFile queues the scan of a single path unless it is already pending.
func (s *Scheduler) QueueFile(repoID, path string) (string, error) {
	q, ok := s.queues[repoID]
	if !ok {
		return "", xerrors.Errorf("%s: %w", repoID, ErrUnknownRepository)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range q.pending {
		if t.Kind == KindFile && t.Path == path {
			return t.ID, nil
		}
	}
	return q.push(&Task{ID: uuid.NewString(), RepositoryID: repoID, Kind: KindFile, Path: path, Queued: s.clock.Now()}), nil
}

// Pending returns copies of the tasks waiting for a repository.
func (s *Scheduler) Pending(repoID string) []Task {
	q, ok := s.queues[repoID]
	if !ok {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := make([]Task, 0, len(q.pending))
	for _, t := range q.pending {
		tasks = append(tasks, *t)
	}
	return tasks
}

// Running returns the task being executed for a repository.
func (s *Scheduler) Running(repoID string) (Task, bool) {
	q, ok := s.queues[repoID]
	if !ok {
		return Task{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running == nil {
		return Task{}, false
	}
	return *q.running, true
}

// push must be called with q.mu held.
func (q *queue) push(t *Task) string {
	q.pending = append(q.pending, t)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return t.ID
}

func (q *queue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.running = nil
		return nil
	}
	t := q.pending[0]
	q.pending = slices.Delete(q.pending, 0, 1)
	q.running = t
	return t
}

func (s *Scheduler) drain(ctx context.Context, q *queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
		for t := q.pop(); t != nil; t = q.pop() {
			if ctx.Err() != nil {
				return
			}
			s.execute(ctx, q.repo, t)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, repo types.ManagedRepository, t *Task) {
	logger := s.logger.With(slog.String("repository", repo.ID), slog.String("task", t.ID), slog.String("kind", string(t.Kind)))
	started := s.clock.Now()

	var err error
	switch t.Kind {
	case KindScan:
		err = s.executor.Scan(ctx, repo, t.Full)
	case KindFile:
		err = s.executor.ScanFile(ctx, repo, t.Path)
	}
	if err != nil {
		logger.Error("Task failed", slog.Any("error", err))
		return
	}
	logger.Debug("Task completed", slog.Duration("duration", s.clock.Since(started)))
}
