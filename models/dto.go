package models

type TranscriptResponse struct {
	Transcript string `json:"transcript"`
	VideoID    string `json:"video_id"`
	Available  bool   `json:"available"`
}

func NewTranscriptResponse(t *Transcript) *TranscriptResponse {
	return &TranscriptResponse{
		Transcript: t.DisplayText(),
		VideoID:    t.VideoID,
		Available:  t.IsAvailable(),
	}
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}

type SentimentResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type SentimentResponse struct {
	Sentiment SentimentResult `json:"sentiment"`
}

type KeywordsResponse struct {
	Keywords string `json:"keywords"`
}

type AnswerResponse struct {
	Answer string `json:"answer"`
}
