package validation

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/nijaru/yt-analyze/errors"
)

var videoIDPattern = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11}).*`)

const (
	maxURLLength      = 2048
	maxQuestionLength = 1000
)

// ExtractVideoID returns the first 11-character video ID found after "v=" or "/".
func ExtractVideoID(rawURL string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ValidateURL checks rawURL and returns the YouTube video ID it refers to.
func ValidateURL(rawURL string) (string, error) {
	const op = "validation.ValidateURL"

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.InvalidInput(op, nil, "Invalid YouTube URL")
	}
	if len(rawURL) > maxURLLength {
		return "", errors.InvalidInput(op, nil, "URL is too long")
	}

	if strings.Contains(rawURL, "://") {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return "", errors.InvalidInput(op, err, "Invalid YouTube URL")
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return "", errors.InvalidInput(op, nil, "Invalid YouTube URL")
		}
	}

	id, ok := ExtractVideoID(rawURL)
	if !ok {
		return "", errors.InvalidInput(op, nil, "Invalid YouTube URL")
	}
	return id, nil
}

// ValidateQuestion trims the question and rejects empty or oversized input.
func ValidateQuestion(question string) (string, error) {
	const op = "validation.ValidateQuestion"

	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.InvalidInput(op, nil, "Missing question")
	}
	if len(question) > maxQuestionLength {
		return "", errors.InvalidInput(op, nil, "Question is too long")
	}
	return question, nil
}
