package usage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"
	jsonx "github.com/desduvauchelle/tamias-sub001/internal/shared/json"
)

// Totals aggregates records for one connection/model pair.
type Totals struct {
	Connection       string `json:"connection"`
	Model            string `json:"model"`
	Calls            int    `json:"calls"`
	Failures         int    `json:"failures"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	DurationMS       int64  `json:"durationMs"`
}

// Summarize folds the log at path into per-model totals for records at or
// after since. A missing file yields no totals. Undecodable lines are
// skipped so a torn final line never hides the rest.
func Summarize(ctx context.Context, path string, since time.Time) ([]Totals, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open usage log: %w", err)
	}
	defer func() { _ = file.Close() }()

	byKey := map[string]*Totals{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var record ports.UsageRecord
		if err := jsonx.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if !since.IsZero() && record.Timestamp.Before(since) {
			continue
		}
		key := record.Connection + "/" + record.Model
		t, ok := byKey[key]
		if !ok {
			t = &Totals{Connection: record.Connection, Model: record.Model}
			byKey[key] = t
		}
		t.Calls++
		if !record.Success {
			t.Failures++
		}
		t.PromptTokens += record.PromptTokens
		t.CompletionTokens += record.CompletionTokens
		t.DurationMS += record.DurationMS
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan usage log: %w", err)
	}

	out := make([]Totals, 0, len(byKey))
	for _, t := range byKey {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Connection != out[j].Connection {
			return out[i].Connection < out[j].Connection
		}
		return out[i].Model < out[j].Model
	})
	return out, nil
}
