package tokenizer

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE scheme used by the OpenAI embedding models
const DefaultEncoding = "cl100k_base"

// ErrUnknownEncoding is returned when the requested encoding cannot be loaded
var ErrUnknownEncoding = errors.New("unknown token encoding")

// Counter measures the token cost of text under a fixed tokenization scheme
type Counter interface {
	// Count returns the number of tokens in text
	Count(text string) int

	// Encode returns the token ids for text, the unit sent to the provider
	Encode(text string) []int
}

var loaderOnce sync.Once

// Tiktoken is a Counter backed by tiktoken BPE ranks embedded in the binary
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding. The BPE files are embedded, so no
// network access happens at runtime.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}

	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownEncoding, encoding, err)
	}

	return &Tiktoken{encoding: encoding, enc: enc}, nil
}

// Encode tokenizes text. Special-token markers are encoded as ordinary text.
func (t *Tiktoken) Encode(text string) []int {
	if text == "" {
		return []int{}
	}
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Count(text string) int {
	return len(t.Encode(text))
}

// Encoding returns the encoding name
func (t *Tiktoken) Encoding() string {
	return t.encoding
}

// CharsPerToken is the average characters per token assumed by Estimator.
// English prose sits near 4, 3.5 errs toward overcounting.
const CharsPerToken = 3.5

// Estimator approximates token counts from text length. It is meant for
// offline runs against the local provider, where exact BPE ids don't matter.
type Estimator struct{}

func (Estimator) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(math.Ceil(float64(len([]rune(text))) / CharsPerToken))
}

// Encode returns one pseudo-id per estimated token, derived from the runes
// covered by that token so equal texts encode identically.
func (e Estimator) Encode(text string) []int {
	runes := []rune(text)
	n := e.Count(text)
	ids := make([]int, n)
	for i := 0; i < n; i++ {
		start := int(float64(i) * CharsPerToken)
		end := int(float64(i+1) * CharsPerToken)
		if end > len(runes) {
			end = len(runes)
		}
		id := 0
		for _, r := range runes[start:end] {
			id = id*31 + int(r)
		}
		ids[i] = id & 0xFFFFF
	}
	return ids
}
