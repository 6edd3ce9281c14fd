package followers

import (
	"regexp"
	"strings"

	"github.com/flowgrow/promo-service/internal/domain"
)

// Each platform carries an ordered chain of extraction patterns, most
// structured first: an exact machine-readable count is preferred over an
// abbreviated human-readable one because abbreviation loses precision.
// The first matching pattern wins.
type pattern struct {
	re *regexp.Regexp
}

// tryExtract concatenates the pattern's capture groups (mantissa plus
// optional magnitude suffix) and parses them.
func (p pattern) tryExtract(body string) (int64, bool) {
	m := p.re.FindStringSubmatch(body)
	if m == nil {
		return 0, false
	}
	var raw strings.Builder
	for _, g := range m[1:] {
		raw.WriteString(g)
	}
	if raw.Len() == 0 {
		return 0, false
	}
	return parseCount(raw.String()), true
}

type platformSource struct {
	url      func(handle string) string
	headers  map[string]string
	patterns []pattern
}

var sources = map[domain.Platform]platformSource{
	domain.PlatformInstagram: {
		url: func(handle string) string { return "https://www.instagram.com/" + handle + "/" },
		headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
		},
		patterns: []pattern{
			// "614M Followers" in meta tags
			{re: regexp.MustCompile(`(?i)content="([\d,.]+)([KMB]?)\s+Followers`)},
			{re: regexp.MustCompile(`(?i)([\d,.]+)([KMB]?)\s+Followers`)},
		},
	},
	domain.PlatformTikTok: {
		url: func(handle string) string { return "https://www.tiktok.com/@" + handle },
		headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/113.0.0.0 Safari/537.36",
		},
		patterns: []pattern{
			// embedded JSON carries the exact count
			{re: regexp.MustCompile(`"followerCount":(\d+)`)},
			{re: regexp.MustCompile(`(?i)(\d+(?:\.\d+)?[KMB]?)\s+Followers`)},
		},
	},
	domain.PlatformFacebook: {
		url: func(handle string) string { return "https://www.facebook.com/" + handle },
		headers: map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": "zh-TW,zh;q=0.9,en;q=0.8",
		},
		patterns: []pattern{
			{re: regexp.MustCompile(`"follower_count":(\d+)`)},
			// zh-TW page text: "3.2萬 位追蹤者" / "1,234 粉絲"
			{re: regexp.MustCompile(`([\d,.]+\s*[KMB万萬]?)\s*位追蹤者`)},
			{re: regexp.MustCompile(`([\d,.]+\s*[KMB万萬]?)\s*粉絲`)},
			{re: regexp.MustCompile(`(?i)([\d,.]+[KMB]?)\s+followers`)},
		},
	},
}
