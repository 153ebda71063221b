// Package chunk splits transcript text into word-aligned pieces that fit a
// token budget.
package chunk

import "strings"

// DefaultMaxCost is the token budget used for question answering.
const DefaultMaxCost = 512

// CostFunc reports how many tokens a single word costs.
type CostFunc func(word string) int

// WordCost charges one token per word.
func WordCost(string) int { return 1 }

type Chunk struct {
	Words     []string
	Cost      int
	Oversized bool // a single word whose cost alone exceeds the budget
}

func (c Chunk) Text() string { return strings.Join(c.Words, " ") }

// SplitChunks partitions the whitespace-separated words of text into ordered
// chunks. A chunk is closed when adding the next word would push it past
// maxCost, unless the chunk is still empty.
func SplitChunks(text string, maxCost int, cost CostFunc) []Chunk {
	if cost == nil {
		cost = WordCost
	}

	var (
		chunks  []Chunk
		current Chunk
	)
	for _, word := range strings.Fields(text) {
		c := cost(word)
		if current.Cost+c > maxCost && len(current.Words) > 0 {
			chunks = append(chunks, current)
			current = Chunk{}
		}
		current.Words = append(current.Words, word)
		current.Cost += c
		if len(current.Words) == 1 && c > maxCost {
			current.Oversized = true
		}
	}
	if len(current.Words) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// Split is SplitChunks with each chunk's words joined by single spaces.
func Split(text string, maxCost int, cost CostFunc) []string {
	chunks := SplitChunks(text, maxCost, cost)
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text()
	}
	return out
}
