package tokens

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts prompt tokens.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts with a BPE encoding such as cl100k_base.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. The BPE ranks may be fetched over the
// network on first use unless TIKTOKEN_CACHE_DIR points at a warm cache.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Approx estimates tokens as one per four bytes, rounded up, capped at the rune
// count. It is used when no encoding is available.
type Approx struct{}

func (Approx) Count(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 3) / 4
	if r := utf8.RuneCountInString(text); n > r {
		n = r
	}
	return n
}

// New returns a tiktoken counter, or Approx when the encoding cannot be loaded.
// The returned error is informational; the counter is always usable.
func New(encoding string) (Counter, error) {
	t, err := NewTiktoken(encoding)
	if err != nil {
		return Approx{}, err
	}
	return t, nil
}
