package server

import (
	"log"
	"sync"
)

// TaskPriority orders background work. High-priority tasks (silences, match
// history finalization) jump ahead of bulk work like chat logging.
type TaskPriority int

const (
	TaskLow TaskPriority = iota
	TaskHigh
)

// TaskQueue is the bounded background work queue. Realtime handlers hand off
// every database write that is not needed for an immediate reply, so a slow
// disk never stalls the packet loop. When the queue is full the task is
// dropped and counted; dropped writes are eventually-consistent data only.
type TaskQueue struct {
	high chan func()
	low  chan func()

	dropped func() // counter hook, may be nil
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewTaskQueue starts workers goroutines draining a queue of the given depth
// per priority band.
func NewTaskQueue(workers, depth int, dropped func()) *TaskQueue {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 1
	}
	q := &TaskQueue{
		high:    make(chan func(), depth),
		low:     make(chan func(), depth),
		dropped: dropped,
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *TaskQueue) worker() {
	defer q.wg.Done()
	for {
		// Drain high-priority work first.
		select {
		case task := <-q.high:
			run(task)
			continue
		default:
		}
		select {
		case task := <-q.high:
			run(task)
		case task := <-q.low:
			run(task)
		case <-q.done:
			return
		}
	}
}

func run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("background task panicked: %v", r)
		}
	}()
	task()
}

// Submit enqueues a task; reports false when the queue was full and the task
// was dropped.
func (q *TaskQueue) Submit(priority TaskPriority, task func()) bool {
	ch := q.low
	if priority == TaskHigh {
		ch = q.high
	}
	select {
	case ch <- task:
		return true
	default:
		if q.dropped != nil {
			q.dropped()
		}
		return false
	}
}

// Close stops the workers after the queues drain.
func (q *TaskQueue) Close() {
	close(q.done)
	q.wg.Wait()
	// Drain whatever was accepted before shutdown.
	for {
		select {
		case task := <-q.high:
			run(task)
		case task := <-q.low:
			run(task)
		default:
			return
		}
	}
}
