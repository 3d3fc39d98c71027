package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/TutorPipe/internal/models"
	"github.com/BTreeMap/TutorPipe/internal/prompt"
	"github.com/BTreeMap/TutorPipe/internal/tutor"
	"github.com/go-chi/chi/v5"
)

// messageView is a transcript message with its rendered HTML.
type messageView struct {
	models.Message
	HTML             string `json:"html"`
	CorrectivePhrase string `json:"corrective_phrase,omitempty"`
}

// sessionView is the JSON shape of a session snapshot.
type sessionView struct {
	UserID         string         `json:"user_id"`
	Feature        models.Feature `json:"feature"`
	Phase          models.Phase   `json:"phase"`
	Messages       []messageView  `json:"messages"`
	Sending        bool           `json:"sending"`
	Capturing      bool           `json:"capturing"`
	InputDisabled  bool           `json:"input_disabled"`
	RetryPendingID string         `json:"retry_pending_id,omitempty"`
	Preview        string         `json:"preview,omitempty"`
	Placeholder    string         `json:"placeholder"`
}

func newMessageView(m models.Message) messageView {
	v := messageView{Message: m, HTML: tutor.RenderMarkdown(m.Text)}
	if m.Mistake != nil && m.Mistake.CorrectedText != "" {
		v.CorrectivePhrase = prompt.CorrectivePhrase(m.Mistake.OriginalText, m.Mistake.CorrectedText)
	}
	return v
}

func newSessionView(snap models.SessionSnapshot) sessionView {
	msgs := make([]messageView, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		msgs = append(msgs, newMessageView(m))
	}
	return sessionView{
		UserID:         snap.UserID,
		Feature:        snap.Feature,
		Phase:          snap.Phase,
		Messages:       msgs,
		Sending:        snap.Sending,
		Capturing:      snap.Capturing,
		InputDisabled:  snap.InputDisabled(),
		RetryPendingID: snap.RetryPendingID,
		Preview:        snap.Preview,
		Placeholder:    prompt.InputPlaceholder(snap.Feature, snap.RetryPendingID != ""),
	}
}

// session resolves the {userID} session, answering the request itself on failure.
func (s *Server) session(w http.ResponseWriter, r *http.Request, handler string) (*tutor.Session, bool) {
	userID := chi.URLParam(r, "userID")
	session, err := s.manager.Get(r.Context(), userID)
	if err != nil {
		slog.Error(handler+": failed to load session", "user_id", userID, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to load session"))
		return nil, false
	}
	return session, true
}

func (s *Server) featuresHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(prompt.Catalog()))
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, "Server.sessionHandler")
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(newSessionView(session.Snapshot())))
}

type featureRequest struct {
	Feature string `json:"feature"`
}

func (s *Server) featureHandler(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if !decodeJSONBody(w, r, &req, "Server.featureHandler") {
		return
	}
	feature, err := models.ParseFeature(req.Feature)
	if err != nil {
		slog.Warn("Server.featureHandler: unknown feature", "feature", req.Feature)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	session, ok := s.session(w, r, "Server.featureHandler")
	if !ok {
		return
	}
	if err := session.SwitchFeature(r.Context(), feature); err != nil {
		slog.Error("Server.featureHandler: switch failed", "user_id", session.UserID(), "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	slog.Info("Server.featureHandler: feature switched", "user_id", session.UserID(), "feature", feature)
	writeJSONResponse(w, http.StatusOK, models.Success(newSessionView(session.Snapshot())))
}

type messageRequest struct {
	Text  string `json:"text"`
	Retry *bool  `json:"retry,omitempty"`
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSONBody(w, r, &req, "Server.messageHandler") {
		return
	}
	session, ok := s.session(w, r, "Server.messageHandler")
	if !ok {
		return
	}
	msg, err := session.Submit(r.Context(), req.Text, tutor.SubmitOptions{Retry: req.Retry})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.Success(newMessageView(msg)))
	case errors.Is(err, models.ErrEmptyInput), errors.Is(err, models.ErrBusy):
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
	case msg.IsNotice:
		// the failure is already part of the transcript
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(err.Error(), newMessageView(msg)))
	default:
		slog.Error("Server.messageHandler: submit failed", "user_id", session.UserID(), "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
	}
}

type explanationResponse struct {
	MistakeID   string `json:"mistake_id"`
	Explanation string `json:"explanation"`
}

func (s *Server) explanationHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r, "Server.explanationHandler")
	if !ok {
		return
	}
	mistakeID := chi.URLParam(r, "mistakeID")
	detail, err := session.Explain(r.Context(), mistakeID)
	if err != nil {
		slog.Warn("Server.explanationHandler: explain failed", "user_id", session.UserID(), "mistake_id", mistakeID, "error", err)
		writeJSONResponse(w, statusForError(err), models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(explanationResponse{MistakeID: mistakeID, Explanation: detail}))
}
