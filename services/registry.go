package services

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 4
)

// Registry owns the code->room table. Rooms are ephemeral: they live in
// memory for the duration of a battle and are removed on explicit end or
// detected emptiness. The generator is injected so tests can make code
// generation deterministic.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewRegistry(rng *rand.Rand) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		rng:   rng,
	}
}

// Create registers a new room. An explicit code must be free; a generated
// code is regenerated until it does not collide with an active one.
func (reg *Registry) Create(ownerID, name, explicitCode string, policy RoundPolicy) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code := strings.ToUpper(strings.TrimSpace(explicitCode))
	if code != "" {
		if _, taken := reg.rooms[code]; taken {
			return nil, fmt.Errorf("room code %q already in use: %w", code, ErrInvalidState)
		}
	} else {
		for {
			code = reg.generateCode()
			if _, taken := reg.rooms[code]; !taken {
				break
			}
		}
	}

	room := NewRoom(code, ownerID, name, policy)
	reg.rooms[code] = room
	return room, nil
}

// Get looks up a room by code, case-insensitively.
func (reg *Registry) Get(code string) (*Room, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, ok := reg.rooms[strings.ToUpper(code)]
	if !ok {
		return nil, fmt.Errorf("room %q: %w", code, ErrNotFound)
	}
	return room, nil
}

// Destroy removes a room from the table. Ownership checks are the
// caller's responsibility.
func (reg *Registry) Destroy(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, strings.ToUpper(code))
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

func (reg *Registry) generateCode() string {
	reg.rngMu.Lock()
	defer reg.rngMu.Unlock()

	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[reg.rng.Intn(len(codeAlphabet))]
	}
	return string(b)
}
