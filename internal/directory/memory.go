package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process directory for tests and single-node demos.
type Memory struct {
	mu           sync.RWMutex
	rooms        map[string]Room // by id
	codes        map[string]string
	participants map[string]map[string]Participant // room id -> participant id
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		rooms:        map[string]Room{},
		codes:        map[string]string{},
		participants: map[string]map[string]Participant{},
		now:          time.Now,
	}
}

func (m *Memory) ResolveRoom(_ context.Context, code string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.codes[NormalizeCode(code)]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	room := m.rooms[id]
	if room.Expired(m.now()) {
		return room, ErrRoomExpired
	}
	return room, nil
}

func (m *Memory) ListActiveParticipants(_ context.Context, roomID string) ([]Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Participant, 0, len(m.participants[roomID]))
	for _, p := range m.participants[roomID] {
		if p.Active() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) GetParticipant(_ context.Context, roomID, participantID string) (Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[roomID][participantID]
	if !ok {
		return Participant{}, ErrParticipantNotFound
	}
	return p, nil
}

func (m *Memory) Touch(_ context.Context, roomID, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[roomID][participantID]
	if !ok {
		return ErrParticipantNotFound
	}
	p.LastSeen = m.now()
	m.participants[roomID][participantID] = p
	return nil
}

func (m *Memory) CreateRoom(_ context.Context, code string, ttl time.Duration) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code = NormalizeCode(code)
	if _, taken := m.codes[code]; taken {
		return Room{}, ErrDuplicateCode
	}
	room := Room{ID: uuid.NewString(), Code: code, CreatedAt: m.now(), TTL: ttl}
	m.rooms[room.ID] = room
	m.codes[code] = room.ID
	m.participants[room.ID] = map[string]Participant{}
	return room, nil
}

func (m *Memory) AddParticipant(_ context.Context, roomID, name string, host bool) (Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.participants[roomID]
	if !ok {
		return Participant{}, ErrRoomNotFound
	}
	p, err := newParticipant(uuid.NewString(), roomID, name, host, m.now())
	if err != nil {
		return Participant{}, err
	}
	for _, other := range members {
		if other.DisplayName == p.DisplayName {
			return Participant{}, ErrDuplicateName
		}
	}
	members[p.ID] = p
	return p, nil
}

func (m *Memory) SetStatus(_ context.Context, roomID, participantID string, status Status) (Participant, error) {
	if !status.Valid() {
		return Participant{}, ErrInvalidStatus
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[roomID][participantID]
	if !ok {
		return Participant{}, ErrParticipantNotFound
	}
	p.Status = status
	m.participants[roomID][participantID] = p
	return p, nil
}

func (m *Memory) ListExpired(_ context.Context, now time.Time) ([]Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Room
	for _, r := range m.rooms {
		if r.Expired(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	delete(m.rooms, roomID)
	delete(m.codes, room.Code)
	delete(m.participants, roomID)
	return nil
}
