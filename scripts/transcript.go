package scripts

import (
	"context"
	"strings"
)

// TranscriptResult is the output of transcript.py.
type TranscriptResult struct {
	VideoID  string `json:"video_id"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Segments int    `json:"segments"`
}

// FetchTranscript asks the transcript service for videoID's captions, trying
// languages in order.
func (r *ScriptRunner) FetchTranscript(ctx context.Context, videoID string, languages []string) (TranscriptResult, error) {
	var result TranscriptResult
	args := map[string]string{
		"video_id":  videoID,
		"languages": strings.Join(languages, ","),
	}
	if err := r.run(ctx, TranscriptScript, args, nil, &result); err != nil {
		return TranscriptResult{}, err
	}
	return result, nil
}
