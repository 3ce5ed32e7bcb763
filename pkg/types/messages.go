package types

import "github.com/ajoanos/pytania-dla-par-sub000/internal/engine"

// Client -> Server

type CreateRoomRequest struct {
	TTLSeconds int64 `json:"ttlSeconds"`
}

type JoinRequest struct {
	Name string `json:"name"`
	Host bool   `json:"host"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

// SyncRequest pushes a participant's local document. State is decoded
// leniently; a malformed document is coerced, never rejected.
type SyncRequest struct {
	ParticipantID string       `json:"participantId"`
	State         engine.State `json:"state"`
}

// Server -> Client

type RoomResponse struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

type ParticipantResponse struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	Host   bool   `json:"host"`
	Status string `json:"status"`
}

// Error codes carried in ErrorResponse.Error.
const (
	CodeRoomNotFound        = "room_not_found"
	CodeRoomExpired         = "room_expired"
	CodeParticipantNotFound = "participant_not_found"
	CodeVersionConflict     = "version_conflict"
	CodeNameTaken           = "name_taken"
	CodeBadRequest          = "bad_request"
	CodeInternal            = "internal"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
