package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ajoanos/pytania-dla-par-sub000/internal/directory"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/hub"
	"github.com/ajoanos/pytania-dla-par-sub000/internal/session"
	"github.com/ajoanos/pytania-dla-par-sub000/pkg/types"
)

const (
	maxBodyBytes   = 1 << 20
	codeAttempts   = 5
	maxRoomTTL     = 30 * 24 * time.Hour
	codeLength     = 6
	codeCharset    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	participantArg = "participant"
)

var errBadRequest = errors.New("bad request")

func GenerateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[num.Int64()]
	}
	return string(code), nil
}

func CreateRoom(dir directory.Admin, defaultTTL time.Duration, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateRoomRequest
		if err := decodeBody(r, &req, true); err != nil {
			writeError(w, log, err)
			return
		}
		ttl := defaultTTL
		if req.TTLSeconds > int64(maxRoomTTL/time.Second) {
			writeError(w, log, fmt.Errorf("%w: ttlSeconds above %d", errBadRequest, int64(maxRoomTTL/time.Second)))
			return
		}
		if req.TTLSeconds > 0 {
			ttl = time.Duration(req.TTLSeconds) * time.Second
		}

		for attempt := 0; attempt < codeAttempts; attempt++ {
			code, err := GenerateCode()
			if err != nil {
				writeError(w, log, err)
				return
			}
			room, err := dir.CreateRoom(r.Context(), code, ttl)
			if errors.Is(err, directory.ErrDuplicateCode) {
				log.Debug("collision on code, regenerating", zap.String("code", code))
				continue
			}
			if err != nil {
				writeError(w, log, err)
				return
			}
			writeJSON(w, http.StatusCreated, types.RoomResponse{ID: room.ID, Code: room.Code})
			return
		}
		writeError(w, log, errors.New("could not find a free room code"))
	}
}

func JoinRoom(dir directory.Admin, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.JoinRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, log, err)
			return
		}
		room, err := dir.ResolveRoom(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		p, err := dir.AddParticipant(r.Context(), room.ID, req.Name, req.Host)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, participantResponse(p))
	}
}

func SetStatus(dir directory.Admin, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.StatusRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, log, err)
			return
		}
		room, err := dir.ResolveRoom(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, log, err)
			return
		}
		p, err := dir.SetStatus(r.Context(), room.ID, chi.URLParam(r, "id"), directory.Status(req.Status))
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, participantResponse(p))
	}
}

func Sync(svc *session.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.SyncRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, log, err)
			return
		}
		if req.ParticipantID == "" {
			writeError(w, log, errors.Join(errBadRequest, errors.New("participantId is required")))
			return
		}
		snap, err := svc.Sync(r.Context(), chi.URLParam(r, "code"), req.ParticipantID, req.State)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, types.StateResponse{Version: snap.Version, State: snap.State})
	}
}

func Poll(svc *session.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who := r.URL.Query().Get(participantArg)
		if who == "" {
			writeError(w, log, errors.Join(errBadRequest, errors.New("participant query parameter is required")))
			return
		}
		snap, err := svc.Poll(r.Context(), chi.URLParam(r, "code"), who)
		if err != nil {
			writeError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, types.StateResponse{Version: snap.Version, State: snap.State})
	}
}

func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		stats, err := h.Stats(ctx)
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "lanes": stats.Lanes})
	}
}

// decodeBody reads a JSON body into v. An empty body is accepted only when
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func participantResponse(p directory.Participant) types.ParticipantResponse {
	return types.ParticipantResponse{
		ID:     p.ID,
		RoomID: p.RoomID,
		Name:   p.DisplayName,
		Host:   p.IsHost,
		Status: string(p.Status),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the one place errors turn into HTTP statuses.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status, code := http.StatusInternalServerError, types.CodeInternal
	switch {
	case errors.Is(err, directory.ErrRoomExpired):
		status, code = http.StatusGone, types.CodeRoomExpired
	case errors.Is(err, directory.ErrRoomNotFound):
		status, code = http.StatusNotFound, types.CodeRoomNotFound
	case errors.Is(err, directory.ErrParticipantNotFound):
		status, code = http.StatusForbidden, types.CodeParticipantNotFound
	case errors.Is(err, session.ErrVersionConflict):
		status, code = http.StatusConflict, types.CodeVersionConflict
	case errors.Is(err, directory.ErrDuplicateName):
		status, code = http.StatusConflict, types.CodeNameTaken
	case errors.Is(err, errBadRequest),
		errors.Is(err, directory.ErrInvalidStatus),
		errors.Is(err, directory.ErrInvalidName):
		status, code = http.StatusBadRequest, types.CodeBadRequest
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, types.ErrorResponse{Error: code, Message: msg})
}
