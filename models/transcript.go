package models

import (
	"time"
)

type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
)

// UnavailableText is shown to clients when the transcript service had nothing for a video.
const UnavailableText = "Transcript not available"

// Transcript is the single cached transcript. The zero value means nothing is cached.
type Transcript struct {
	VideoID   string    `json:"video_id"`
	Text      string    `json:"text"`
	Status    Status    `json:"status"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (t *Transcript) IsEmpty() bool { return t == nil || (t.Text == "" && t.Status == "") }

func (t *Transcript) IsAvailable() bool {
	return t != nil && t.Status == StatusAvailable && t.Text != ""
}

func (t *Transcript) IsUnavailable() bool { return t != nil && t.Status == StatusUnavailable }

// DisplayText is the text returned to clients.
func (t *Transcript) DisplayText() string {
	if t.IsUnavailable() {
		return UnavailableText
	}
	return t.Text
}
