package followers

import (
	"math"
	"strconv"
	"strings"
)

// parseCount turns a human-readable follower figure into an integer.
// Accepts thousands separators and magnitude suffixes: K, M, B, and the
// CJK 万/萬 (×10,000) used on zh-TW profile pages.
// "1.2K" -> 1200, "614M" -> 614000000, "12,450" -> 12450, "3.2万" -> 32000.
func parseCount(text string) int64 {
	t := strings.ToUpper(strings.TrimSpace(text))
	t = strings.ReplaceAll(t, ",", "")
	t = strings.ReplaceAll(t, " ", "")

	multiplier := 1.0
	switch {
	case strings.HasSuffix(t, "K"):
		multiplier = 1_000
		t = strings.TrimSuffix(t, "K")
	case strings.HasSuffix(t, "M"):
		multiplier = 1_000_000
		t = strings.TrimSuffix(t, "M")
	case strings.HasSuffix(t, "B"):
		multiplier = 1_000_000_000
		t = strings.TrimSuffix(t, "B")
	case strings.HasSuffix(t, "万"):
		multiplier = 10_000
		t = strings.TrimSuffix(t, "万")
	case strings.HasSuffix(t, "萬"):
		multiplier = 10_000
		t = strings.TrimSuffix(t, "萬")
	}

	n, err := strconv.ParseFloat(t, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int64(math.Floor(n * multiplier))
}
