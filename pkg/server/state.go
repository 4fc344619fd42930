package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PlayerState is the last known position report for a player, keyed by the
// player's own uuid rather than the session id so a reconnecting client
// keeps its identity.
type PlayerState struct {
	UUID     string
	Username string
	X        float64
	Y        float64
	Z        float64
	Server   string
	LastSeen time.Time
}

// TimedEvent is a global gameplay event with a bounded lifetime.
type TimedEvent struct {
	ID        string
	EventType string
	Duration  time.Duration
	StartTime time.Time
}

// Expired reports whether the event's lifetime has elapsed at now.
func (e TimedEvent) Expired(now time.Time) bool {
	return !now.Before(e.StartTime.Add(e.Duration))
}

// GameState owns the shared ephemeral game state: player positions, the
// single bounty target, and active timed events. Connection goroutines, the
// sweep loop, and admin requests all touch it concurrently, so every
// accessor holds the lock.
//
// Each event's removal timer is kept in a registry keyed by event id, so an
// event can be removed early instead of waiting out its timer.
type GameState struct {
	mu          sync.RWMutex
	players     map[string]PlayerState
	bounty      string
	events      map[string]TimedEvent
	eventTimers map[string]*time.Timer

	metrics *Metrics // optional
}

// NewGameState creates an empty game state store.
func NewGameState() *GameState {
	return &GameState{
		players:     make(map[string]PlayerState),
		events:      make(map[string]TimedEvent),
		eventTimers: make(map[string]*time.Timer),
	}
}

// SetMetrics attaches metrics to the store.
func (g *GameState) SetMetrics(metrics *Metrics) {
	g.metrics = metrics
}

// UpsertPlayer stores or replaces the state for a player uuid.
func (g *GameState) UpsertPlayer(p PlayerState) {
	g.mu.Lock()
	g.players[p.UUID] = p
	count := len(g.players)
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordOnlinePlayers(count)
	}
}

// RemovePlayer deletes a player's state. Returns false if the uuid was not
// tracked.
func (g *GameState) RemovePlayer(playerUUID string) bool {
	g.mu.Lock()
	_, ok := g.players[playerUUID]
	if ok {
		delete(g.players, playerUUID)
	}
	count := len(g.players)
	g.mu.Unlock()

	if ok && g.metrics != nil {
		g.metrics.RecordOnlinePlayers(count)
	}
	return ok
}

// Player returns the state for a player uuid.
func (g *GameState) Player(playerUUID string) (PlayerState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p, ok := g.players[playerUUID]
	return p, ok
}

// Players returns a snapshot of all tracked player states.
func (g *GameState) Players() []PlayerState {
	g.mu.RLock()
	defer g.mu.RUnlock()

	players := make([]PlayerState, 0, len(g.players))
	for _, p := range g.players {
		players = append(players, p)
	}
	return players
}

// PlayerCount returns the number of tracked players.
func (g *GameState) PlayerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.players)
}

// SetBounty designates the current bounty target. Last writer wins; there is
// never more than one bounty.
func (g *GameState) SetBounty(playerUUID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.bounty = playerUUID
}

// Bounty returns the current bounty target uuid, or "" when none is set.
func (g *GameState) Bounty() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.bounty
}

// AddEvent creates a timed event and schedules its removal after duration.
func (g *GameState) AddEvent(eventType string, duration time.Duration) TimedEvent {
	event := TimedEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		Duration:  duration,
		StartTime: time.Now(),
	}

	g.mu.Lock()
	g.events[event.ID] = event
	g.eventTimers[event.ID] = time.AfterFunc(duration, func() {
		g.RemoveEvent(event.ID)
	})
	count := len(g.events)
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordActiveEvents(count)
	}
	return event
}

// RemoveEvent deletes an event by id and cancels its pending timer, so an
// admin override doesn't have to wait the duration out. Returns false if the
// event was already gone.
func (g *GameState) RemoveEvent(eventID string) bool {
	g.mu.Lock()
	_, ok := g.events[eventID]
	if ok {
		delete(g.events, eventID)
	}
	if timer, exists := g.eventTimers[eventID]; exists {
		timer.Stop()
		delete(g.eventTimers, eventID)
	}
	count := len(g.events)
	g.mu.Unlock()

	if ok && g.metrics != nil {
		g.metrics.RecordActiveEvents(count)
	}
	return ok
}

// ActiveEvents returns a snapshot of events that have not yet expired. The
// removal timer normally keeps the map clean; filtering here covers the gap
// between a timer firing and the map delete.
func (g *GameState) ActiveEvents() []TimedEvent {
	now := time.Now()

	g.mu.RLock()
	defer g.mu.RUnlock()

	events := make([]TimedEvent, 0, len(g.events))
	for _, e := range g.events {
		if e.Expired(now) {
			continue
		}
		events = append(events, e)
	}
	return events
}

// SweepStalePlayers removes players whose last update is older than maxAge
// and returns how many were removed.
func (g *GameState) SweepStalePlayers(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	g.mu.Lock()
	removed := 0
	for uuid, p := range g.players {
		if p.LastSeen.Before(cutoff) {
			delete(g.players, uuid)
			removed++
		}
	}
	count := len(g.players)
	g.mu.Unlock()

	if removed > 0 && g.metrics != nil {
		g.metrics.RecordOnlinePlayers(count)
		g.metrics.RecordPlayersSwept(removed)
	}
	return removed
}

// Close stops all pending event timers and clears the store.
func (g *GameState) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, timer := range g.eventTimers {
		timer.Stop()
		delete(g.eventTimers, id)
	}
	g.events = make(map[string]TimedEvent)
	g.players = make(map[string]PlayerState)
	g.bounty = ""
}
