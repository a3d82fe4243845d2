// Package tokenutil counts tokens with tiktoken-go. The cl100k_base encoding
// is loaded lazily on first use; when it cannot be loaded (offline hosts) a
// character heuristic is used instead.
package tokenutil

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
	disabled bool
	mu       sync.RWMutex
)

// Disable forces the heuristic estimator. Used by tests and offline deployments.
func Disable() {
	mu.Lock()
	disabled = true
	mu.Unlock()
}

func loadEncoding() *tiktoken.Tiktoken {
	mu.RLock()
	off := disabled
	mu.RUnlock()
	if off {
		return nil
	}
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens returns a token count using cl100k_base, falling back to EstimateFast.
func CountTokens(text string) int {
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast returns a heuristic token estimate: max(runes/4, word_count).
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}
