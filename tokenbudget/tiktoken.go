package tokenbudget

import (
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// TiktokenEncoder adapts github.com/pkoukk/tiktoken-go to the Encoder
// interface, selecting a BPE vocabulary by model name the same way the
// original chose between o200k_base and cl100k_base.
type TiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEncoder builds an encoder for model. gpt-4o/o1/o3-family
// models use o200k_base; everything else falls back to cl100k_base.
func NewTiktokenEncoder(model string) (*TiktokenEncoder, error) {
	encodingName := "cl100k_base"
	if hasAnyPrefix(model, "gpt-4o", "o1", "o3") {
		encodingName = "o200k_base"
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &TiktokenEncoder{enc: enc}, nil
}

// Count implements Encoder.
func (t *TiktokenEncoder) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
