package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/contestboard/internal/domain/model"
)

const maxEventBodyBytes = 1 << 20

// EventDependencies defines the interface for event intake.
type EventDependencies interface {
	Enqueue(ctx context.Context, e model.GradingEvent) (bool, error)
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps EventDependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

type eventRequest struct {
	EventID            string `json:"event_id"`
	ContestID          string `json:"contest_id"`
	UserID             string `json:"user_id"`
	ChallengeMappingID string `json:"challenge_mapping_id"`
	Points             *int64 `json:"points"`
	GradedAt           string `json:"graded_at"`
}

func (r eventRequest) toEvent() (model.GradingEvent, error) {
	if r.Points == nil {
		return model.GradingEvent{}, errors.New("missing points")
	}
	e := model.GradingEvent{
		EventID:            strings.TrimSpace(r.EventID),
		ContestID:          r.ContestID,
		UserID:             r.UserID,
		ChallengeMappingID: r.ChallengeMappingID,
		Points:             *r.Points,
	}
	if r.GradedAt != "" {
		ts, err := time.Parse(time.RFC3339, r.GradedAt)
		if err != nil {
			return model.GradingEvent{}, errors.New("graded_at must be RFC3339")
		}
		e.GradedAt = ts
	}
	if err := e.Validate(); err != nil {
		return model.GradingEvent{}, err
	}
	return e, nil
}

type ackResponse struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var req eventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes)).Decode(&req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	e, err := req.toEvent()
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if e.EventID == "" {
		e.EventID = e.DerivedID()
	}

	duplicate, err := h.deps.Enqueue(r.Context(), e)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", EventID: e.EventID, Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", EventID: e.EventID})
}
