// Package prometheus exports worker pool stats snapshots as Prometheus
// metrics.
package prometheus

import (
	"context"
	"errors"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	poolx "github.com/SeaSBee/go-poolx"
)

// StatsProvider provides current pool stats snapshots.
type StatsProvider interface {
	GetStats() poolx.Stats
}

// SnapshotPoller periodically exports pool GetStats() snapshots into
// Prometheus gauges. Counters from the pool are exported as gauge samples
// of the monotonic snapshot values.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]StatsProvider

	workers          *prom.GaugeVec
	activeWorkers    *prom.GaugeVec
	queueDepth       *prom.GaugeVec
	queueUtilization *prom.GaugeVec
	resultBacklog    *prom.GaugeVec
	tasksSubmitted   *prom.GaugeVec
	tasksCompleted   *prom.GaugeVec
	tasksFailed      *prom.GaugeVec
	tasksPerMinute   *prom.GaugeVec
	successRate      *prom.GaugeVec
	running          *prom.GaugeVec

	stateMu sync.Mutex
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = "poolx"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	labels := []string{"pool"}
	poller := &SnapshotPoller{
		interval: interval,
		pools:    make(map[string]StatsProvider),
	}

	specs := []struct {
		name string
		help string
		dst  **prom.GaugeVec
	}{
		{"workers", "Current worker count per pool.", &poller.workers},
		{"active_workers", "Workers currently executing a task.", &poller.activeWorkers},
		{"queue_depth", "Queued tasks per pool.", &poller.queueDepth},
		{"queue_utilization", "Task queue utilization in [0,1].", &poller.queueUtilization},
		{"result_backlog", "Undrained outcomes per pool.", &poller.resultBacklog},
		{"tasks_submitted", "Accepted task count snapshot.", &poller.tasksSubmitted},
		{"tasks_completed", "Drained outcome count snapshot.", &poller.tasksCompleted},
		{"tasks_failed", "Failed outcome count snapshot.", &poller.tasksFailed},
		{"tasks_per_minute", "Completion throughput per pool.", &poller.tasksPerMinute},
		{"success_rate", "Fraction of drained outcomes that succeeded.", &poller.successRate},
		{"running", "Pool running state (1=running, 0=stopped).", &poller.running},
	}

	for _, spec := range specs {
		vec := prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      spec.name,
			Help:      spec.help,
		}, labels)
		registered, err := registerCollector(reg, vec)
		if err != nil {
			return nil, err
		}
		*spec.dst = registered
	}

	return poller, nil
}

// AddPool adds or replaces a pool stats provider by name.
func (p *SnapshotPoller) AddPool(name string, provider StatsProvider) {
	if p == nil || provider == nil {
		return
	}
	if name == "" {
		name = "default"
	}
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.active {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.active = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.active {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.active = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

// CollectOnce exports one snapshot per registered pool.
func (p *SnapshotPoller) CollectOnce() {
	p.poolsMu.RLock()
	defer p.poolsMu.RUnlock()

	for name, provider := range p.pools {
		stats := provider.GetStats()

		active := 0
		for _, w := range stats.Workers {
			if w.CurrentTaskID != "" {
				active++
			}
		}

		p.workers.WithLabelValues(name).Set(float64(len(stats.Workers)))
		p.activeWorkers.WithLabelValues(name).Set(float64(active))
		p.queueDepth.WithLabelValues(name).Set(float64(stats.Queue.TaskQueueDepth))
		p.queueUtilization.WithLabelValues(name).Set(stats.Queue.QueueUtilization)
		p.resultBacklog.WithLabelValues(name).Set(float64(stats.Queue.ResultQueueDepth))
		p.tasksSubmitted.WithLabelValues(name).Set(float64(stats.Pool.TasksSubmitted))
		p.tasksCompleted.WithLabelValues(name).Set(float64(stats.Pool.TasksCompleted))
		p.tasksFailed.WithLabelValues(name).Set(float64(stats.Pool.TasksFailed))
		p.tasksPerMinute.WithLabelValues(name).Set(stats.Pool.TasksPerMinute)
		p.successRate.WithLabelValues(name).Set(stats.Pool.SuccessRate)
		if stats.IsRunning {
			p.running.WithLabelValues(name).Set(1)
		} else {
			p.running.WithLabelValues(name).Set(0)
		}
	}
}

// registerCollector registers a collector, reusing an existing identical
// collector when one is already registered.
func registerCollector[C prom.Collector](reg prom.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var already prom.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}
