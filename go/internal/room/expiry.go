package room

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type expiry struct {
	timer  clockwork.Timer
	cancel context.CancelFunc
}

func (e *expiry) stop() {
	e.cancel()
	stopAndDrainTimer(e.timer)
}

// ScheduleExpiry arms a delayed deletion of the room. Deletion re-validates
// at fire time: the room must still exist and still have zero members.
// With a zero expiry window the check runs immediately.
func (r *Registry) ScheduleExpiry(id string) {
	if r.config.ExpiryWindow <= 0 {
		if r.deleteIfEmpty(id) {
			log.Info().Str("room_id", id).Msg("room deleted (empty)")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	exp := &expiry{
		timer:  r.clock.NewTimer(r.config.ExpiryWindow),
		cancel: cancel,
	}
	r.replaceExpiry(id, exp)

	go func() {
		select {
		case <-exp.timer.Chan():
			r.removeExpiry(id, exp)
			if r.deleteIfEmpty(id) {
				log.Info().Str("room_id", id).Msg("room deleted (timeout)")
			}
		case <-ctx.Done():
		}
	}()

	log.Info().
		Str("room_id", id).
		Dur("window", r.config.ExpiryWindow).
		Msg("room is empty, scheduled deletion")
}

// CancelExpiry disarms a pending deletion, if any
func (r *Registry) CancelExpiry(id string) {
	r.expiriesMu.Lock()
	defer r.expiriesMu.Unlock()

	if exp, ok := r.expiries[id]; ok {
		exp.stop()
		delete(r.expiries, id)
		log.Info().Str("room_id", id).Msg("room deletion cancelled")
	}
}

// ExpiryPending reports whether a deletion is armed for the room
func (r *Registry) ExpiryPending(id string) bool {
	r.expiriesMu.Lock()
	defer r.expiriesMu.Unlock()
	_, ok := r.expiries[id]
	return ok
}

// replaceExpiry stores exp, cancelling any expiry already armed for the room.
func (r *Registry) replaceExpiry(id string, exp *expiry) {
	r.expiriesMu.Lock()
	defer r.expiriesMu.Unlock()

	if existing, ok := r.expiries[id]; ok {
		existing.stop()
	}
	r.expiries[id] = exp
}

// removeExpiry forgets exp once it fired, unless it was already replaced.
func (r *Registry) removeExpiry(id string, exp *expiry) {
	r.expiriesMu.Lock()
	defer r.expiriesMu.Unlock()

	if r.expiries[id] == exp {
		delete(r.expiries, id)
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
