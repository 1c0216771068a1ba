// Package api exposes HTTP handlers for the group activity service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Johnmc130/SerenVoice/internal/auth"
	"github.com/Johnmc130/SerenVoice/internal/domain"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createActivity(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getActivity(w, r, id)
	case action == "start" && r.Method == http.MethodPost:
		h.startActivity(w, r, id)
	case action == "connect" && r.Method == http.MethodPost:
		h.connect(w, r, id)
	case action == "submissions" && r.Method == http.MethodPost:
		h.submit(w, r, id)
	case action == "participants" && r.Method == http.MethodGet:
		h.listParticipants(w, r, id)
	case action == "result" && r.Method == http.MethodGet:
		h.getResult(w, r, id)
	case action == "notifications" && r.Method == http.MethodGet:
		h.listNotifications(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req CreateActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity, err := h.service.CreateActivity(r.Context(), domain.CreateActivityInput{
		GroupID:        req.GroupID,
		CreatorID:      claims.Subject,
		Title:          req.Title,
		Description:    req.Description,
		ExcludeCreator: req.ExcludeCreator,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite); !ok {
		return
	}

	state, err := h.service.GetState(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := ActivityStateResponse{
		Activity:    toActivityView(state.Activity),
		ResultReady: state.ResultReady,
		Progress: ParticipationView{
			Total:             state.Stats.Total,
			Invited:           state.Stats.Invited,
			Connected:         state.Stats.Connected,
			Completed:         state.Stats.Completed,
			Absent:            state.Stats.Absent,
			CompletionPercent: state.Stats.CompletionPercent(),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) startActivity(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	receipt, err := h.service.StartActivity(r.Context(), id, claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StartActivityResponse{
		ActivityID:       id,
		StartedAt:        receipt.StartedAt,
		ParticipantCount: receipt.ParticipantCount,
	})
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	state, err := h.service.Connect(r.Context(), id, claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ConnectResponse{ActivityID: id, State: string(state)})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	receipt, err := h.service.Submit(r.Context(), domain.SubmitInput{
		ActivityID:     id,
		UserID:         claims.Subject,
		EmotionWeights: req.EmotionWeights,
		Stress:         req.Stress,
		Anxiety:        req.Anxiety,
		Confidence:     req.Confidence,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := SubmitResponse{
		ActivityID:  id,
		State:       string(receipt.State),
		AllComplete: receipt.AllComplete,
	}
	if receipt.Aggregate != nil {
		view := toAggregateView(*receipt.Aggregate)
		resp.Result = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite); !ok {
		return
	}

	participants, err := h.service.ListParticipants(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		items = append(items, ParticipantView{
			UserID:      p.UserID,
			State:       string(p.State),
			ConnectedAt: p.ConnectedAt,
			CompletedAt: p.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, ParticipantsResponse{ActivityID: id, Participants: items})
}

func (h *Handler) getResult(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite); !ok {
		return
	}

	result, err := h.service.GetAggregate(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAggregateView(*result))
}

func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite); !ok {
		return
	}

	events, err := h.service.Notifications(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]NotificationView, 0, len(events))
	for _, event := range events {
		items = append(items, NotificationView{
			EventID:     event.ID,
			RecipientID: event.RecipientID,
			Kind:        string(event.Kind),
			Title:       event.Title,
			Message:     event.Message,
			ActionRef:   event.ActionRef,
			Delivered:   event.Delivered,
			EnqueuedAt:  event.EnqueuedAt,
			AttemptedAt: event.AttemptedAt,
		})
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{ActivityID: id, Notifications: items})
}

// requireScope resolves claims and enforces that at least one of the scopes
// is present. It writes the error response itself when the check fails.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	GroupID        string `json:"group_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	ExcludeCreator bool   `json:"exclude_creator"`
}

// Validate ensures request correctness. Length rules live in the domain
// layer; only structural requirements are checked here.
func (r CreateActivityRequest) Validate() error {
	if strings.TrimSpace(r.GroupID) == "" {
		return errors.New("group_id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}

// SubmitRequest is the payload for POST /v1/activities/{id}/submissions.
type SubmitRequest struct {
	EmotionWeights map[string]float64 `json:"emotion_weights"`
	Stress         *float64           `json:"stress,omitempty"`
	Anxiety        *float64           `json:"anxiety,omitempty"`
	Confidence     float64            `json:"confidence"`
}

// ActivityView exposes activity details.
type ActivityView struct {
	ActivityID  string     `json:"activity_id"`
	GroupID     string     `json:"group_id"`
	CreatorID   string     `json:"creator_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Phase       string     `json:"phase"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ParticipationView summarizes roster progress.
type ParticipationView struct {
	Total             int     `json:"total"`
	Invited           int     `json:"invited"`
	Connected         int     `json:"connected"`
	Completed         int     `json:"completed"`
	Absent            int     `json:"absent"`
	CompletionPercent float64 `json:"completion_percent"`
}

// ActivityStateResponse packages the activity with its progress.
type ActivityStateResponse struct {
	Activity    ActivityView      `json:"activity"`
	Progress    ParticipationView `json:"progress"`
	ResultReady bool              `json:"result_ready"`
}

// StartActivityResponse describes the response for start.
type StartActivityResponse struct {
	ActivityID       string    `json:"activity_id"`
	StartedAt        time.Time `json:"started_at"`
	ParticipantCount int       `json:"participant_count"`
}

// ConnectResponse describes the response for connect.
type ConnectResponse struct {
	ActivityID string `json:"activity_id"`
	State      string `json:"state"`
}

// SubmitResponse describes the response for a submission.
type SubmitResponse struct {
	ActivityID  string         `json:"activity_id"`
	State       string         `json:"state"`
	AllComplete bool           `json:"all_complete"`
	Result      *AggregateView `json:"result,omitempty"`
}

// ParticipantView exposes one roster entry.
type ParticipantView struct {
	UserID      string     `json:"user_id"`
	State       string     `json:"state"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ParticipantsResponse packages the roster.
type ParticipantsResponse struct {
	ActivityID   string            `json:"activity_id"`
	Participants []ParticipantView `json:"participants"`
}

// AggregateStatsView exposes the group emotional statistics.
type AggregateStatsView struct {
	EmotionAverages map[string]float64 `json:"emotion_averages"`
	DominantEmotion string             `json:"dominant_emotion"`
	MeanStress      float64            `json:"mean_stress"`
	MeanAnxiety     float64            `json:"mean_anxiety"`
	MeanConfidence  float64            `json:"mean_confidence"`
	Wellbeing       string             `json:"wellbeing"`
}

// AggregateView exposes the group result.
type AggregateView struct {
	ActivityID       string              `json:"activity_id"`
	ParticipantCount int                 `json:"participant_count"`
	RosterSize       int                 `json:"roster_size"`
	CompletionRatio  float64             `json:"completion_ratio"`
	Stats            *AggregateStatsView `json:"stats,omitempty"`
	ComputedAt       time.Time           `json:"computed_at"`
}

// NotificationView exposes one audit entry.
type NotificationView struct {
	EventID     int64      `json:"event_id"`
	RecipientID string     `json:"recipient_id"`
	Kind        string     `json:"kind"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	ActionRef   string     `json:"action_ref,omitempty"`
	Delivered   bool       `json:"delivered"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	AttemptedAt *time.Time `json:"attempted_at,omitempty"`
}

// NotificationsResponse packages the audit trail.
type NotificationsResponse struct {
	ActivityID    string             `json:"activity_id"`
	Notifications []NotificationView `json:"notifications"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "forbidden", "only the creator may perform this operation")
	case errors.Is(err, domain.ErrNotAParticipant):
		writeError(w, http.StatusForbidden, "forbidden", "caller is not on the activity roster")
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	case errors.Is(err, domain.ErrResultNotReady):
		writeError(w, http.StatusNotFound, "not_ready", "group result is not available yet")
	case errors.Is(err, domain.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "conflict", "operation is not valid in the current state")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(activity domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:  activity.ID,
		GroupID:     activity.GroupID,
		CreatorID:   activity.CreatorID,
		Title:       activity.Title,
		Description: activity.Description,
		Phase:       string(activity.Phase),
		CreatedAt:   activity.CreatedAt,
		StartedAt:   activity.StartedAt,
		CompletedAt: activity.CompletedAt,
	}
}

func toAggregateView(result domain.AggregateResult) AggregateView {
	view := AggregateView{
		ActivityID:       result.ActivityID,
		ParticipantCount: result.ParticipantCount,
		RosterSize:       result.RosterSize,
		CompletionRatio:  result.CompletionRatio,
		ComputedAt:       result.ComputedAt,
	}
	if result.Stats != nil {
		view.Stats = &AggregateStatsView{
			EmotionAverages: result.Stats.EmotionAverages,
			DominantEmotion: result.Stats.DominantEmotion,
			MeanStress:      result.Stats.MeanStress,
			MeanAnxiety:     result.Stats.MeanAnxiety,
			MeanConfidence:  result.Stats.MeanConfidence,
			Wellbeing:       result.Stats.Wellbeing,
		}
	}
	return view
}
