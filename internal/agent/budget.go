package agent

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// TokenCounter measures prompt text in model tokens.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding, loaded on first use.
// If the encoding cannot be loaded it falls back to a length heuristic.
type TiktokenCounter struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger *zap.Logger
}

// NewTiktokenCounter returns a lazily initialised counter.
func NewTiktokenCounter(logger *zap.Logger) *TiktokenCounter {
	return &TiktokenCounter{logger: logger.Named("tokens")}
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.Warn("Token encoding unavailable, using length heuristic", zap.Error(err))
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count at four runes per token.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// HeuristicCounter counts with EstimateTokens only.
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(text string) int { return EstimateTokens(text) }

// trimToBudget keeps the newest entries of a window whose rendered size fits
// maxTokens. The newest entry is always kept. A non-positive budget keeps
// everything.
func trimToBudget(entries []schemas.HistoryEntry, counter TokenCounter, maxTokens int) []schemas.HistoryEntry {
	if maxTokens <= 0 || len(entries) == 0 {
		return entries
	}
	total := 0
	start := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		n := counter.Count(RenderEntry(entries[i]))
		if total+n > maxTokens && i < len(entries)-1 {
			break
		}
		total += n
		start = i
	}
	return entries[start:]
}
