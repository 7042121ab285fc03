package linkmatch

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkInfo describes the matched anchor element.
type LinkInfo struct {
	AnchorText    *string `json:"anchor_text"`
	RelAttributes *string `json:"rel_attributes"`
	IsDofollow    bool    `json:"is_dofollow"`
}

// Find returns the first anchor in document order whose absolute href points
// at target, or nil when none does or the document cannot be parsed.
func Find(html, target string) *LinkInfo {
	return find(html, nil, target)
}

// FindOnPage behaves like Find but resolves relative hrefs against pageURL,
// honouring a <base href> when the document declares one.
func FindOnPage(html, pageURL, target string) *LinkInfo {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return find(html, nil, target)
	}
	return find(html, base, target)
}

func find(html string, base *url.URL, target string) *LinkInfo {
	normalizedTarget, err := Normalize(target)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	if base != nil {
		if declared, ok := doc.Find("base[href]").First().Attr("href"); ok {
			if ref, err := base.Parse(strings.TrimSpace(declared)); err == nil {
				base = ref
			}
		}
	}

	var info *LinkInfo
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = resolve(base, href)
		normalized, err := Normalize(href)
		if err != nil || !equivalentNormalized(normalized, normalizedTarget) {
			return true
		}
		info = describe(s)
		return false
	})
	return info
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil {
		return href
	}
	ref, err := base.Parse(href)
	if err != nil {
		return href
	}
	return ref.String()
}

func describe(s *goquery.Selection) *LinkInfo {
	info := &LinkInfo{IsDofollow: true}
	if text := strings.TrimSpace(s.Text()); text != "" {
		info.AnchorText = &text
	}
	rel, _ := s.Attr("rel")
	tokens := relTokens(rel)
	for _, tok := range tokens {
		if tok == "nofollow" {
			info.IsDofollow = false
		}
	}
	if len(tokens) > 0 {
		joined := strings.Join(tokens, ",")
		info.RelAttributes = &joined
	}
	return info
}

// relTokens lower-cases and de-duplicates rel tokens, keeping first-seen order.
func relTokens(rel string) []string {
	fields := strings.Fields(strings.ToLower(rel))
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
