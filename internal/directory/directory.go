package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrRoomNotFound = errors.New("room not found")

// ErrRoomExpired also matches ErrRoomNotFound.
var ErrRoomExpired = fmt.Errorf("%w: expired", ErrRoomNotFound)

var ErrParticipantNotFound = errors.New("participant not found")
var ErrDuplicateName = errors.New("display name already taken")
var ErrDuplicateCode = errors.New("room code already taken")
var ErrInvalidStatus = errors.New("invalid participant status")
var ErrInvalidName = errors.New("display name must not be empty")

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRejected:
		return true
	}
	return false
}

type Room struct {
	ID        string        `gorm:"primaryKey;size:36" json:"id"`
	Code      string        `gorm:"uniqueIndex;size:16;not null" json:"code"`
	CreatedAt time.Time     `json:"createdAt"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the room outlived its TTL. A zero TTL never expires.
func (r Room) Expired(now time.Time) bool {
	return r.TTL > 0 && !now.Before(r.CreatedAt.Add(r.TTL))
}

type Participant struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID      string    `gorm:"size:36;not null;uniqueIndex:idx_participant_room_name" json:"roomId"`
	DisplayName string    `gorm:"size:64;not null;uniqueIndex:idx_participant_room_name" json:"displayName"`
	IsHost      bool      `gorm:"not null;default:false" json:"isHost"`
	Status      Status    `gorm:"size:16;not null;default:pending" json:"status"`
	LastSeen    time.Time `json:"lastSeen"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Active reports whether the participant takes part in the session. The host
// is always in.
func (p Participant) Active() bool {
	return p.IsHost || p.Status == StatusActive
}

// Directory is the read side the session merger depends on.
type Directory interface {
	// ResolveRoom looks a room up by its case-insensitive code.
	ResolveRoom(ctx context.Context, code string) (Room, error)
	// ListActiveParticipants returns the active participants ordered by
	// display name.
	ListActiveParticipants(ctx context.Context, roomID string) ([]Participant, error)
	GetParticipant(ctx context.Context, roomID, participantID string) (Participant, error)
	Touch(ctx context.Context, roomID, participantID string) error
}

// Admin adds the write operations used by the HTTP API and the sweeper.
type Admin interface {
	Directory
	CreateRoom(ctx context.Context, code string, ttl time.Duration) (Room, error)
	AddParticipant(ctx context.Context, roomID, name string, host bool) (Participant, error)
	SetStatus(ctx context.Context, roomID, participantID string, status Status) (Participant, error)
	ListExpired(ctx context.Context, now time.Time) ([]Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// NormalizeCode trims and upper-cases a room code so lookups ignore case.
// Casers are stateful, so each call gets its own.
func NormalizeCode(code string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}

func newParticipant(id, roomID, name string, host bool, now time.Time) (Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Participant{}, ErrInvalidName
	}
	status := StatusPending
	if host {
		status = StatusActive
	}
	return Participant{
		ID:          id,
		RoomID:      roomID,
		DisplayName: name,
		IsHost:      host,
		Status:      status,
		LastSeen:    now,
		CreatedAt:   now,
	}, nil
}
