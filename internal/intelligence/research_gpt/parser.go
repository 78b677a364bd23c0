package research_gpt

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/turtacn/RxMarket-Intelligence/internal/domain/research"
	"github.com/turtacn/RxMarket-Intelligence/pkg/errors"
)

// maxSnippetLen bounds how much raw model output lands in error messages.
const maxSnippetLen = 200

// ParseCandidate is the single deserialization boundary between raw model
// output and the candidate document. It accepts a bare JSON object, a
// fenced code block, or an object embedded in prose. Anything else fails
// with a malformed-candidate error; recovery from that (a minimal default
// assessment) is the caller's decision, not the parser's.
func ParseCandidate(raw []byte) (*research.Candidate, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New(errors.ErrCodeMalformedCandidate, "generation output is empty")
	}

	cleaned := stripCodeFences(trimmed)
	if cand, err := decodeCandidate(cleaned); err == nil {
		return cand, nil
	}

	// Models wrap JSON in prose often enough that extracting the first
	// balanced object is the one sanctioned fallback.
	if obj, ok := extractJSONObject(cleaned); ok {
		if cand, err := decodeCandidate(obj); err == nil {
			return cand, nil
		}
	}

	return nil, errors.Newf(errors.ErrCodeMalformedCandidate,
		"generation output is not a candidate document: %q", snippet(trimmed))
}

func decodeCandidate(data []byte) (*research.Candidate, error) {
	var c research.Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if isEmptyCandidate(&c) {
		return nil, errors.New(errors.ErrCodeMalformedCandidate, "candidate carries no content")
	}
	return &c, nil
}

// isEmptyCandidate reports whether the decoded document has nothing in it, a
// syntactically valid but useless reply like "{}".
func isEmptyCandidate(c *research.Candidate) bool {
	if strings.TrimSpace(c.Summary) != "" {
		return false
	}
	if c.Market.CurrentMarketUSD != 0 || c.Market.PeakRevenueUSD != 0 || c.Market.YearsToPeak != 0 ||
		c.Market.ReportedCAGR != 0 || c.Market.AvgAnnualPriceUSD != 0 ||
		c.Market.PersistenceRate != 0 || c.Market.ReportedPeakPatients != 0 {
		return false
	}
	if len(c.Competitors) > 0 || len(c.Deals) > 0 || len(c.Pricing) > 0 || len(c.Incentives) > 0 {
		return false
	}
	if len(c.Sources) > 0 || len(c.Market.Sources) > 0 {
		return false
	}
	return true
}

// stripCodeFences removes a surrounding markdown code fence if present.
func stripCodeFences(data []byte) []byte {
	s := bytes.TrimSpace(data)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	// Drop the opening fence line, including a language hint like ```json.
	if idx := bytes.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		return s
	}
	if end := bytes.LastIndex(s, []byte("```")); end >= 0 {
		s = s[:end]
	}
	return bytes.TrimSpace(s)
}

// extractJSONObject returns the first balanced top-level JSON object in data,
// tracking string and escape state so braces inside strings do not count.
func extractJSONObject(data []byte) ([]byte, bool) {
	start := bytes.IndexByte(data, '{')
	if start < 0 {
		return nil, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(data); i++ {
		ch := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return data[start : i+1], true
			}
		}
	}
	return nil, false
}

func snippet(data []byte) string {
	s := string(data)
	if len(s) <= maxSnippetLen {
		return s
	}
	return s[:maxSnippetLen] + "…"
}
