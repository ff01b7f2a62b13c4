package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reasons passed to the janitor's deletion hook.
const (
	DeleteReasonEmpty = "empty"
	DeleteReasonIdle  = "idle"
)

// Janitor reclaims rooms nobody is in. A room that becomes empty gets a grace
// period before deletion so a quick rejoin keeps it; the periodic sweep catches
// anything left empty and idle past the threshold.
type Janitor struct {
	store         RoomStore
	interval      time.Duration
	idleThreshold time.Duration
	grace         time.Duration
	logger        *zap.Logger
	now           func() time.Time

	// onDelete runs after a room has been removed, outside every lock.
	onDelete func(roomID, code, reason string)

	mu      sync.Mutex
	pending map[string]*pendingDeletion // roomID -> timer
	stopped bool
}

type pendingDeletion struct {
	timer *time.Timer
}

func NewJanitor(store RoomStore, interval, idleThreshold, grace time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		store:         store,
		interval:      interval,
		idleThreshold: idleThreshold,
		grace:         grace,
		logger:        logger,
		now:           time.Now,
		onDelete:      func(string, string, string) {},
		pending:       make(map[string]*pendingDeletion),
	}
}

// OnDelete sets the hook called for every room the janitor removes.
func (j *Janitor) OnDelete(fn func(roomID, code, reason string)) {
	j.onDelete = fn
}

// Schedule arms (or re-arms) the deferred deletion of roomID.
func (j *Janitor) Schedule(roomID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stopped {
		return
	}
	if p, ok := j.pending[roomID]; ok {
		p.timer.Stop()
	}

	p := &pendingDeletion{}
	p.timer = time.AfterFunc(j.grace, func() { j.fire(roomID, p) })
	j.pending[roomID] = p
}

// Cancel disarms a pending deletion, if any.
func (j *Janitor) Cancel(roomID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if p, ok := j.pending[roomID]; ok {
		p.timer.Stop()
		delete(j.pending, roomID)
	}
}

// Pending reports how many deferred deletions are armed.
func (j *Janitor) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func (j *Janitor) fire(roomID string, p *pendingDeletion) {
	j.mu.Lock()
	if j.pending[roomID] != p {
		// Cancelled or superseded after the timer had already started.
		j.mu.Unlock()
		return
	}
	delete(j.pending, roomID)
	j.mu.Unlock()

	var code string
	deleted := j.store.DeleteIf(roomID, func(r *Room) bool {
		code = r.Code
		return r.isEmpty()
	})
	if !deleted {
		return
	}

	j.logger.Info("room deleted after grace period",
		zap.String("room_id", roomID), zap.String("room_code", code))
	j.onDelete(roomID, code, DeleteReasonEmpty)
}

// Sweep deletes every room that is empty and has been idle longer than the
// threshold. Occupied rooms are never swept.
func (j *Janitor) Sweep() int {
	now := j.now()
	removed := 0

	for _, room := range j.store.List() {
		var code string
		deleted := j.store.DeleteIf(room.ID, func(r *Room) bool {
			code = r.Code
			return r.isEmpty() && now.Sub(r.idleSince()) > j.idleThreshold
		})
		if !deleted {
			continue
		}

		j.Cancel(room.ID)
		removed++
		j.logger.Info("swept idle room",
			zap.String("room_id", room.ID), zap.String("room_code", code))
		j.onDelete(room.ID, code, DeleteReasonIdle)
	}
	return removed
}

// Run sweeps on every tick until ctx is cancelled. Each extra task runs after the
// sweep on the same tick.
func (j *Janitor) Run(ctx context.Context, extra ...func()) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := j.Sweep(); n > 0 {
				j.logger.Info("janitor sweep complete", zap.Int("removed", n))
			}
			for _, task := range extra {
				task()
			}
		}
	}
}

// Stop disarms every pending deletion and refuses new ones.
func (j *Janitor) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stopped = true
	for id, p := range j.pending {
		p.timer.Stop()
		delete(j.pending, id)
	}
}
