package services

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"slimcast/internal/core/ports"
)

// SchedulerConfig carries the pump tunables.
type SchedulerConfig struct {
	// ProduceBatch bounds how many chunks one dispatch task may pull from a
	// single sub-producer, so one busy source cannot starve the others.
	ProduceBatch int
	// ProducerPause is requested from a sub-producer whose batch ended with
	// the consumer deferring.
	ProducerPause time.Duration
	// IdleSleep paces the pump when no sub-producer has data.
	IdleSleep time.Duration
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ProduceBatch:  5,
		ProducerPause: 50 * time.Millisecond,
		IdleSleep:     50 * time.Millisecond,
	}
}

// Scheduler owns one producer container and one consumer and pumps chunks
// between them. The pump goroutine only samples producer status; the actual
// produce calls run as tasks on the processor, which serializes them with
// everything else that touches the consumer.
type Scheduler struct {
	cfg      SchedulerConfig
	producer ports.ProducerContainer
	consumer ports.Consumer
	proc     *Processor
	log      *zap.SugaredLogger

	wg      sync.WaitGroup
	started chan struct{}
}

func NewScheduler(
	cfg SchedulerConfig,
	producer ports.ProducerContainer,
	consumer ports.Consumer,
	proc *Processor,
	log *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		producer: producer,
		consumer: consumer,
		proc:     proc,
		log:      log,
	}
}

// Start starts producer and consumer and launches the pump goroutine,
// returning once the pump is running.
func (s *Scheduler) Start() {
	if s.started != nil {
		return
	}
	s.producer.Start()
	s.consumer.Start()

	s.started = make(chan struct{})
	s.wg.Add(1)
	go s.pump()
	<-s.started
}

// Stop stops producer and consumer and waits for the pump to exit. The
// pump finishes its current sweep (or idle sleep) first.
func (s *Scheduler) Stop() {
	s.producer.Stop()
	s.consumer.Stop()
	s.wg.Wait()
}

func (s *Scheduler) pump() {
	defer s.wg.Done()
	s.log.Debugw("pump started")
	close(s.started)

	for running := true; running; {
		running = false
		available := false

		for _, producer := range s.producer.Producers() {
			r := producer.IsRunning()
			a := producer.IsAvailable()

			if r && a {
				s.proc.Submit(s.dispatchTask(producer))
			}

			running = running || r
			available = available || a
		}

		if running && !available {
			time.Sleep(s.cfg.IdleSleep)
		}
	}

	s.log.Debugw("pump stopped")
}

// dispatchTask pulls up to ProduceBatch chunks from one sub-producer,
// stopping early when the consumer defers or the producer runs dry. A
// deferred batch pauses the producer so the pump does not spin on it.
func (s *Scheduler) dispatchTask(producer ports.Producer) func() {
	return func() {
		processed := true
		for count := s.cfg.ProduceBatch; processed && count > 0 && producer.IsAvailable(); count-- {
			processed = producer.Produce(s.consumer)
		}
		if !processed {
			producer.Pause(s.cfg.ProducerPause)
		}
	}
}
