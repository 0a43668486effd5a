package chunking

import "strings"

// Splitter cuts page text into chunks of at most ChunkSize runes, breaking
// only at word boundaries. Consecutive chunks share roughly Overlap runes of
// trailing words so that sentences cut near a boundary stay retrievable from
// both sides.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var out []string
	var current []string
	currentLen := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		out = append(out, strings.Join(current, " "))

		carry, carryLen := s.overlapTail(current)
		current = carry
		currentLen = carryLen
	}

	for _, word := range words {
		wordLen := len([]rune(word))
		// A single word longer than the budget becomes its own chunk
		// rather than being cut mid-word.
		if currentLen > 0 && currentLen+1+wordLen > s.ChunkSize {
			flush()
		}
		if currentLen > 0 {
			currentLen++
		}
		current = append(current, word)
		currentLen += wordLen
	}
	if len(current) > 0 {
		last := strings.Join(current, " ")
		if len(out) == 0 || !strings.HasSuffix(out[len(out)-1], last) {
			out = append(out, last)
		}
	}
	return out
}

// overlapTail returns the trailing words of a finished chunk that seed the
// next one, capped at the configured overlap budget.
func (s *Splitter) overlapTail(words []string) ([]string, int) {
	if s.Overlap <= 0 {
		return nil, 0
	}
	total := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		wordLen := len([]rune(words[i]))
		cost := wordLen
		if total > 0 {
			cost++
		}
		if total+cost > s.Overlap {
			break
		}
		total += cost
		start = i
	}
	// Never carry the entire chunk forward, that would loop.
	if start == 0 && len(words) > 1 {
		start = 1
		total = 0
		for i := start; i < len(words); i++ {
			if total > 0 {
				total++
			}
			total += len([]rune(words[i]))
		}
	}
	if start == len(words) {
		return nil, 0
	}
	tail := make([]string, len(words)-start)
	copy(tail, words[start:])
	return tail, total
}
