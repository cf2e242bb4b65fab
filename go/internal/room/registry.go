package room

import (
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/models"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// idByteLimit is 252, the largest multiple of len(idAlphabet) below 256.
var idByteLimit = 256 - 256%len(idAlphabet)

// RegistryConfig holds configuration for the room registry
type RegistryConfig struct {
	ExpiryWindow  time.Duration // How long an empty room survives; 0 deletes on the last leave
	IDLength      int
	MaxIDAttempts int
}

// DefaultRegistryConfig returns the default registry configuration
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ExpiryWindow:  30 * time.Second,
		IDLength:      6,
		MaxIDAttempts: 16,
	}
}

// entry guards one room. The mutex is the single serialization point for
// every mutation of that room.
type entry struct {
	mu      sync.Mutex
	room    *models.Room
	deleted bool
}

// Registry owns the mapping from room id to room state.
// Lock order is registry.mu before entry.mu.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*entry

	expiriesMu sync.Mutex
	expiries   map[string]*expiry

	clock  clockwork.Clock
	config RegistryConfig
	newID  func() string
}

// NewRegistry creates an empty registry
func NewRegistry(clock clockwork.Clock, config RegistryConfig) *Registry {
	if config.IDLength <= 0 {
		config.IDLength = DefaultRegistryConfig().IDLength
	}
	if config.MaxIDAttempts <= 0 {
		config.MaxIDAttempts = DefaultRegistryConfig().MaxIDAttempts
	}
	r := &Registry{
		rooms:    make(map[string]*entry),
		expiries: make(map[string]*expiry),
		clock:    clock,
		config:   config,
	}
	r.newID = func() string { return randomID(r.config.IDLength) }
	return r
}

// CreateRoom allocates a fresh idle room. Id collisions are resolved by
// regenerating. A non-empty creator becomes a member in the same critical
// section, so the room is never observable without its creator. A room
// created without a member arms its expiry only when the window is positive;
// with a zero window it waits for its first join and last leave.
func (r *Registry) CreateRoom(creator string) (models.Room, error) {
	r.mu.Lock()
	var created *models.Room
	for attempt := 0; attempt < r.config.MaxIDAttempts; attempt++ {
		id := r.newID()
		if _, exists := r.rooms[id]; exists {
			log.Warn().Str("room_id", id).Int("attempt", attempt).Msg("room id collision, regenerating")
			continue
		}
		created = models.NewRoom(id, r.clock.Now())
		if creator != "" {
			created.Members[creator] = struct{}{}
		}
		r.rooms[id] = &entry{room: created}
		break
	}
	var snapshot models.Room
	if created != nil {
		snapshot = created.Clone()
	}
	r.mu.Unlock()

	if created == nil {
		return models.Room{}, ErrIDExhausted
	}

	log.Info().Str("room_id", snapshot.ID).Str("creator", creator).Msg("room created")
	if creator == "" && r.config.ExpiryWindow > 0 {
		r.ScheduleExpiry(snapshot.ID)
	}
	return snapshot, nil
}

// GetRoom returns a copy of the room's current state
func (r *Registry) GetRoom(id string) (models.Room, error) {
	var room models.Room
	err := r.WithRoom(id, func(rm *models.Room) error {
		room = rm.Clone()
		return nil
	})
	return room, err
}

// WithRoom runs fn while holding the room's lock. fn must not call back into
// methods that take the registry lock (ScheduleExpiry, DeleteRoom).
func (r *Registry) WithRoom(id string, fn func(*models.Room) error) error {
	r.mu.RLock()
	e, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return fn(e.room)
}

// DeleteRoom removes a room regardless of its members
func (r *Registry) DeleteRoom(id string) error {
	r.CancelExpiry(id)

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	delete(r.rooms, id)

	log.Info().Str("room_id", id).Msg("room deleted")
	return nil
}

// deleteIfEmpty deletes the room only if it still exists and has no members.
func (r *Registry) deleteIfEmpty(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rooms[id]
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.room.Members) > 0 {
		log.Debug().
			Str("room_id", id).
			Int("members", len(e.room.Members)).
			Msg("room regained members, skipping deletion")
		return false
	}
	e.deleted = true
	delete(r.rooms, id)
	return true
}

// Len returns the number of live rooms
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// List returns copies of every live room ordered by id
func (r *Registry) List() []models.Room {
	r.mu.RLock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	rooms := make([]models.Room, 0, len(ids))
	for _, id := range ids {
		if room, err := r.GetRoom(id); err == nil {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// Close disarms every pending expiry. Rooms are kept.
func (r *Registry) Close() {
	r.expiriesMu.Lock()
	defer r.expiriesMu.Unlock()
	for id, exp := range r.expiries {
		exp.stop()
		delete(r.expiries, id)
		log.Debug().Str("room_id", id).Msg("cancelled expiry on shutdown")
	}
}

func randomID(n int) string {
	buf := make([]byte, n)
	id := make([]byte, 0, n)
	for len(id) < n {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms
			panic(fmt.Sprintf("room: read random bytes: %v", err))
		}
		for _, b := range buf {
			// Bytes at or above the largest multiple of the alphabet size
			// would skew the distribution toward its first characters.
			if int(b) >= idByteLimit {
				continue
			}
			id = append(id, idAlphabet[int(b)%len(idAlphabet)])
			if len(id) == n {
				break
			}
		}
	}
	return string(id)
}
