package clients

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/zwl098/yusic/go/internal/models"
	"github.com/zwl098/yusic/go/internal/timeline"
)

// Player is the local audio output a RoomClient keeps in line with the room
type Player interface {
	Load(key models.TrackKey) error
	Play() error
	Pause() error
	Seek(position float64) error
	Position() float64
}

// VirtualPlayer is a Player without audio: its position advances with the
// clock while playing. Used by headless listeners and tests.
type VirtualPlayer struct {
	clock clockwork.Clock

	mu      sync.Mutex
	track   *models.TrackKey
	anchor  timeline.Anchor
	playing bool
	seeks   int
}

func NewVirtualPlayer(clock clockwork.Clock) *VirtualPlayer {
	return &VirtualPlayer{clock: clock}
}

func (p *VirtualPlayer) Load(key models.TrackKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.track = &key
	p.anchor = timeline.NewAnchor(p.clock.Now(), 0)
	p.playing = false
	return nil
}

func (p *VirtualPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		p.anchor = timeline.NewAnchor(p.clock.Now(), p.anchor.Position)
		p.playing = true
	}
	return nil
}

func (p *VirtualPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		p.anchor = timeline.Rebase(p.anchor, p.clock.Now())
		p.playing = false
	}
	return nil
}

func (p *VirtualPlayer) Seek(position float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anchor = timeline.NewAnchor(p.clock.Now(), position)
	p.seeks++
	return nil
}

func (p *VirtualPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return p.anchor.Position
	}
	return timeline.Position(p.anchor, p.clock.Now())
}

// Track returns the loaded track
func (p *VirtualPlayer) Track() *models.TrackKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.track
}

// Playing reports whether the player is playing
func (p *VirtualPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Seeks returns how many seeks were issued
func (p *VirtualPlayer) Seeks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeks
}

var _ Player = (*VirtualPlayer)(nil)
