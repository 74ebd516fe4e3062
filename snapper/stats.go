package snapper

import (
	"sync"
	"time"
)

type WorkerStat struct {
	// The worker id.
	Id string

	// Description of the device the worker renders on.
	Device string

	// Number of served requests and how many of them failed.
	Requests uint64
	Failures uint64

	// Snap time for the last request and for all requests.
	LastSnapTime  time.Duration
	TotalSnapTime time.Duration
}

type PoolStats struct {
	// Individual worker stats.
	Workers []WorkerStat

	// Number of requests waiting for a worker.
	Queued int
}

type workerStats struct {
	sync.Mutex
	stat WorkerStat
}

func (ws *workerStats) record(elapsed time.Duration, err error) {
	ws.Lock()
	defer ws.Unlock()
	ws.stat.Requests++
	if err != nil {
		ws.stat.Failures++
	}
	ws.stat.LastSnapTime = elapsed
	ws.stat.TotalSnapTime += elapsed
}

func (ws *workerStats) get() WorkerStat {
	ws.Lock()
	defer ws.Unlock()
	return ws.stat
}
