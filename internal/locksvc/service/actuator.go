package service

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Actuator drives the door strike.
type Actuator interface {
	Unlock(d time.Duration)
}

// LogActuator stands in for the relay output: it tracks the open window and logs transitions.
type LogActuator struct {
	mu    sync.Mutex
	timer *time.Timer
	opens int
}

func (a *LogActuator) Unlock(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.opens++
	if a.timer != nil {
		a.timer.Stop()
	} else {
		log.Info("door: unlocked")
	}
	a.timer = time.AfterFunc(d, func() {
		a.mu.Lock()
		a.timer = nil
		a.mu.Unlock()
		log.Info("door: locked")
	})
}

// Opens returns how many times Unlock was called.
func (a *LogActuator) Opens() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens
}
