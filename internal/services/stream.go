package services

import (
	"context"
	"time"
	"unicode/utf8"
)

// Sink receives the incremental answer of a turn. Begin is called once, after
// the request is accepted and before any chunk.
type Sink interface {
	Begin(requestID string) error
	Chunk(delta string) error
}

// SplitChunks splits text into pieces of at most size runes, in order.
func SplitChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	chunks := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, n := 0, 0
	for i := range text {
		if n == size {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(chunks, text[start:])
}

// streamAnswer writes chunks to sink with at least interval between them.
func streamAnswer(ctx context.Context, sink Sink, chunks []string, interval time.Duration) (int, error) {
	var timer *time.Timer
	if interval > 0 {
		timer = time.NewTimer(0)
		defer timer.Stop()
		<-timer.C
	}
	for i, c := range chunks {
		if i > 0 && timer != nil {
			timer.Reset(interval)
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := sink.Chunk(c); err != nil {
			return i, err
		}
	}
	return len(chunks), nil
}
