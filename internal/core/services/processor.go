package services

import (
	"sync"

	"go.uber.org/zap"
)

// Processor is a single-worker serializer. Every task submitted to it runs
// on one dedicated goroutine in FIFO order, which is what makes the
// session maps and the dispatcher scalars single-writer state: network
// goroutines and the pump submit tasks instead of mutating directly.
//
// A failed task never stalls the queue: panics are recovered and logged.
type Processor struct {
	tasks chan func()
	done  chan struct{}
	log   *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
}

// NewProcessor starts the worker goroutine. queueSize bounds how many tasks
// may be pending before Submit blocks the caller.
func NewProcessor(queueSize int, log *zap.SugaredLogger) *Processor {
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Processor{
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
		log:   log,
	}
	go p.run()
	return p
}

func (p *Processor) run() {
	defer close(p.done)
	for task := range p.tasks {
		p.runOne(task)
	}
}

func (p *Processor) runOne(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("processor task panicked", "panic", r)
		}
	}()
	task()
}

// Submit enqueues a task. Returns false when the processor is already
// closed and the task was dropped.
func (p *Processor) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.log.Debugw("task dropped, processor closed")
		return false
	}
	p.tasks <- task
	return true
}

// Invoke submits a task and waits for it to finish. Must not be called from
// a task already running on the processor: that would deadlock on the
// single worker.
func (p *Processor) Invoke(task func()) bool {
	ran := make(chan struct{})
	if !p.Submit(func() {
		defer close(ran)
		task()
	}) {
		return false
	}
	<-ran
	return true
}

// Close drains remaining tasks and stops the worker. Tasks submitted after
// Close are dropped.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	<-p.done
}
