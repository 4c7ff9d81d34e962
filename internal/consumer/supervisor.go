package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/joshu-sajeev/migrateq/common"
	"github.com/joshu-sajeev/migrateq/internal/broker"
	"go.uber.org/zap"
)

// restartInterval is how often the supervisor retries workers that should
// be running but are not.
const restartInterval = 5 * time.Second

// BrokerAdmin extends BrokerConsumer with the inspection calls the
// supervisor exposes through its stats endpoint.
type BrokerAdmin interface {
	BrokerConsumer
	QueueInfo(name string) (broker.QueueInfo, error)
}

// Supervisor owns the set of queue workers: it starts them, keeps them
// running, and answers health and stats queries.
type Supervisor struct {
	client BrokerAdmin
	log    *zap.Logger

	mu      sync.Mutex
	workers map[string]*Worker
	order   []string
	desired map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSupervisor(client BrokerAdmin, log *zap.Logger, workers ...*Worker) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		client:  client,
		log:     log.Named("supervisor"),
		workers: make(map[string]*Worker, len(workers)),
		desired: make(map[string]bool, len(workers)),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, w := range workers {
		s.workers[w.Queue()] = w
		s.order = append(s.order, w.Queue())
	}
	return s
}

// StartAll starts every registered worker and begins supervising. Workers
// that fail to start are retried on the supervision loop.
func (s *Supervisor) StartAll() {
	s.mu.Lock()
	for _, queue := range s.order {
		s.desired[queue] = true
	}
	s.mu.Unlock()

	s.sweep()

	s.wg.Add(1)
	go s.supervise()
}

// Start marks one worker as desired and attempts to start it. Starting an
// already running worker is a no-op.
func (s *Supervisor) Start(queue string) error {
	s.mu.Lock()
	w, ok := s.workers[queue]
	if ok {
		s.desired[queue] = true
	}
	s.mu.Unlock()

	if !ok {
		return common.NotFoundErrf("no worker for queue %q", queue)
	}
	return w.Start()
}

// Stop stops one worker and stops supervising it.
func (s *Supervisor) Stop(queue string) error {
	s.mu.Lock()
	w, ok := s.workers[queue]
	if ok {
		s.desired[queue] = false
	}
	s.mu.Unlock()

	if !ok {
		return common.NotFoundErrf("no worker for queue %q", queue)
	}
	return w.Stop()
}

// Restart bounces one worker.
func (s *Supervisor) Restart(queue string) error {
	if err := s.Stop(queue); err != nil {
		return err
	}
	return s.Start(queue)
}

// StopAll stops supervision and every worker.
func (s *Supervisor) StopAll() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, queue := range s.order {
		s.desired[queue] = false
		if err := s.workers[queue].Stop(); err != nil {
			s.log.Warn("worker stop failed", zap.String("queue", queue), zap.Error(err))
		}
	}
}

func (s *Supervisor) supervise() {
	defer s.wg.Done()
	ticker := time.NewTicker(restartInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.ctx.Done():
			return
		}
	}
}

// sweep starts every desired worker that is not running.
func (s *Supervisor) sweep() {
	s.mu.Lock()
	var pending []*Worker
	for _, queue := range s.order {
		if s.desired[queue] && !s.workers[queue].Running() {
			pending = append(pending, s.workers[queue])
		}
	}
	s.mu.Unlock()

	for _, w := range pending {
		if err := w.Start(); err != nil {
			s.log.Warn("worker start failed, will retry",
				zap.String("queue", w.Queue()), zap.Error(err))
		}
	}
}

// Health reports per-worker running state plus broker connectivity.
func (s *Supervisor) Health() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	health := map[string]bool{"broker": s.client.IsConnected()}
	for _, queue := range s.order {
		health[queue] = s.workers[queue].Running()
	}
	return health
}

// Stats returns live queue depths and consumer counts for every managed
// queue.
func (s *Supervisor) Stats() map[string]broker.QueueInfo {
	s.mu.Lock()
	queues := append([]string(nil), s.order...)
	s.mu.Unlock()

	stats := make(map[string]broker.QueueInfo, len(queues))
	for _, queue := range queues {
		info, err := s.client.QueueInfo(queue)
		if err != nil {
			s.log.Warn("queue inspection failed", zap.String("queue", queue), zap.Error(err))
			continue
		}
		stats[queue] = info
	}
	return stats
}
