package services

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper periodically forgets sessions that stopped long ago.
type Reaper struct {
	cron    *cron.Cron
	manager *Manager
	ttl     time.Duration
	now     func() time.Time
}

func NewReaper(m *Manager, schedule string, ttl time.Duration) (*Reaper, error) {
	r := &Reaper{
		cron:    cron.New(),
		manager: m,
		ttl:     ttl,
		now:     time.Now,
	}
	entryID, err := r.cron.AddFunc(schedule, r.run)
	if err != nil {
		return nil, fmt.Errorf("invalid reap schedule %q: %w", schedule, err)
	}
	log.Printf("Added session reaper (entry %d): %s, ttl %s", entryID, schedule, ttl)
	return r, nil
}

func (r *Reaper) Start() {
	r.cron.Start()
	log.Println("Session reaper started")
}

// Stop waits for a running reap to finish.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
	log.Println("Session reaper stopped")
}

func (r *Reaper) run() {
	if n := r.manager.Reap(r.now(), r.ttl); n > 0 {
		log.Printf("Reaped %d stopped recording sessions", n)
	}
}
