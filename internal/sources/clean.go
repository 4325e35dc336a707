package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// blockBoundary matches tags after which text from adjacent blocks must not run together.
var blockBoundary = regexp.MustCompile(`(?i)</(p|div|li|h[1-6]|section|jats:p|jats:title|jats:sec)>|<br\s*/?>`)

// CleanAbstract strips markup and collapses whitespace.
func CleanAbstract(s string) string {
	if strings.ContainsRune(s, '<') {
		s = blockBoundary.ReplaceAllStringFunc(s, func(tag string) string { return " " + tag })
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// TrimLabel removes a leading "Abstract" label, with or without a colon,
// from already cleaned text.
func TrimLabel(s string) string {
	for _, label := range []string{"Abstract:", "Abstract.", "ABSTRACT:", "Abstract", "ABSTRACT"} {
		if rest, ok := strings.CutPrefix(s, label); ok {
			if label[len(label)-1] == ':' || label[len(label)-1] == '.' || rest == "" || rest[0] == ' ' {
				return strings.TrimSpace(rest)
			}
		}
	}
	return s
}

// GetJSON fetches rawURL through f and decodes the body into out. Network
// errors are mapped by the caller with FromError.
func GetJSON(ctx context.Context, f Fetcher, rawURL string, headers http.Header, out any) error {
	if headers == nil {
		headers = http.Header{}
	}
	if headers.Get("Accept") == "" {
		headers.Set("Accept", "application/json")
	}

	resp, err := f.Get(ctx, rawURL, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", rawURL, err)
	}
	return nil
}
