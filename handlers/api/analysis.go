package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/nijaru/yt-analyze/models"
	"github.com/nijaru/yt-analyze/services/analysis"
)

type AnalysisHandler struct {
	service analysis.Service
	logger  *logrus.Logger
}

func NewAnalysisHandler(service analysis.Service, logger *logrus.Logger) *AnalysisHandler {
	return &AnalysisHandler{service: service, logger: logger}
}

// HandleSummarize handles POST /summarize
func (h *AnalysisHandler) HandleSummarize(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summarize(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, r, http.StatusOK, models.SummaryResponse{Summary: summary})
}

// HandleSentiment handles POST /sentiment
func (h *AnalysisHandler) HandleSentiment(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Sentiment(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, r, http.StatusOK, models.SentimentResponse{
		Sentiment: models.SentimentResult{Label: result.Label, Score: result.Score},
	})
}

// HandleKeywords handles POST /keywords
func (h *AnalysisHandler) HandleKeywords(w http.ResponseWriter, r *http.Request) {
	keywords, err := h.service.Keywords(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, r, http.StatusOK, models.KeywordsResponse{Keywords: keywords})
}

// HandleAnswer handles POST /answer
func (h *AnalysisHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	question, err := readField(w, r, "question")
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	answer, err := h.service.Answer(r.Context(), question)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, r, http.StatusOK, models.AnswerResponse{Answer: answer})
}
