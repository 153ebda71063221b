package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/services/transcript"
)

type TranscriptHandler struct {
	service transcript.Service
	logger  *logrus.Logger
}

func NewTranscriptHandler(service transcript.Service, logger *logrus.Logger) *TranscriptHandler {
	return &TranscriptHandler{service: service, logger: logger}
}

// HandleTranscript handles POST /transcript
func (h *TranscriptHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	url, err := readField(w, r, "url")
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	t, err := h.service.Load(r.Context(), url)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	respondJSON(w, r, http.StatusOK, models.NewTranscriptResponse(t))
}
