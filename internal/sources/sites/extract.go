package sites

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func text(s *goquery.Selection) string {
	return strings.TrimSpace(s.Text())
}

// joinTexts joins the non-empty texts of a selection, dropping repeats.
func joinTexts(s *goquery.Selection) string {
	var parts []string
	seen := make(map[string]bool)
	s.Each(func(_ int, sel *goquery.Selection) {
		t := text(sel)
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		parts = append(parts, t)
	})
	return strings.Join(parts, " ")
}

func extractACL(doc *goquery.Document) string {
	return text(doc.Find("div.acl-abstract span").First())
}

func extractACM(doc *goquery.Document) string {
	if t := joinTexts(doc.Find(`section#abstract div[role="paragraph"]`)); t != "" {
		return t
	}
	return joinTexts(doc.Find("div.abstractSection p"))
}

// extractDivAbstract serves CVF open access and PMLR pages.
func extractDivAbstract(doc *goquery.Document) string {
	return text(doc.Find("div#abstract").First())
}

func extractIJCAI(doc *goquery.Document) string {
	// ijcai.org/proceedings/...: the third row holds the abstract.
	rows := doc.Find("div.container-fluid.proceedings-detail div.row")
	if rows.Length() >= 3 {
		t := text(rows.Eq(2).Find("div.col-md-12").First())
		if i := strings.Index(t, "Keywords:"); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		if t != "" {
			return t
		}
	}
	// ijcai.org/Abstract/...: the second paragraph.
	return text(doc.Find("div.region.region-content div.content p").Eq(1))
}

func extractUSENIX(doc *goquery.Document) string {
	item := doc.Find("div.field-name-field-paper-description div.field-items div.field-item").First()
	if item.Length() == 0 {
		return ""
	}
	if t := joinTexts(item.Find("p")); t != "" {
		return t
	}
	if t := text(item); !strings.HasPrefix(t, "Abstract:") {
		return t
	}
	return ""
}

func extractNDSS(doc *goquery.Document) string {
	// ndss-paper pages: author paragraphs carry <strong>, the abstract follows.
	paperData := doc.Find("div.entry-content div.paper-data").First()
	if paperData.Length() > 0 {
		var parts []string
		afterAuthors := false
		paperData.ChildrenFiltered("p").Each(func(_ int, p *goquery.Selection) {
			if p.Find("strong").Length() > 0 {
				afterAuthors = true
				return
			}
			if !afterAuthors {
				return
			}
			if inner := p.Find("p"); inner.Length() > 0 {
				inner.Each(func(_ int, ip *goquery.Selection) {
					parts = append(parts, text(ip))
				})
				return
			}
			parts = append(parts, text(p))
		})
		if t := dedupJoin(parts); t != "" {
			return t
		}
	}

	// Newer layout: <h2>Abstract:</h2> followed by sibling paragraphs.
	h2 := doc.Find("section.new-wrapper h2").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "Abstract:")
	}).First()
	if h2.Length() == 0 {
		return ""
	}
	return joinTexts(h2.NextAllFiltered("p"))
}

func dedupJoin(parts []string) string {
	seen := make(map[string]bool, len(parts))
	out := parts[:0]
	for _, p := range parts {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return strings.Join(out, " ")
}

func extractNeurIPS(doc *goquery.Document) string {
	h4 := doc.Find("h4").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return text(s) == "Abstract"
	}).First()
	if h4.Length() == 0 {
		return ""
	}
	var out string
	h4.NextAllFiltered("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		out = text(p)
		return out == ""
	})
	return out
}

func extractArXiv(doc *goquery.Document) string {
	bq := doc.Find("blockquote.abstract.mathjax").First()
	if !strings.Contains(bq.Find("span.descriptor").Text(), "Abstract:") {
		return ""
	}
	t := text(bq)
	return strings.TrimSpace(strings.TrimPrefix(t, "Abstract:"))
}

func extractOpenReview(doc *goquery.Document) string {
	var out string
	doc.Find("strong.note-content-field").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := text(s)
		if !strings.Contains(label, "Abstract") || !strings.Contains(label, ":") {
			return true
		}
		value := s.Parent().Find(".note-content-value").First()
		if value.Length() == 0 {
			return true
		}
		if out = joinTexts(value.Find("p")); out == "" {
			out = text(value)
		}
		return out == ""
	})
	return out
}

func extractSpringer(doc *goquery.Document) string {
	return joinTexts(doc.Find("div#Abs1-content p"))
}

func extractIEEE(doc *goquery.Document) string {
	container := doc.Find("div.u-mb-1").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.Text()), "abstract")
	}).First()
	if container.Length() == 0 {
		return ""
	}
	h2 := container.Find("h2").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "Abstract")
	}).First()
	if h2.Length() == 0 {
		return ""
	}
	if t := text(container.Find("div[xplmathjax]").First()); t != "" {
		return t
	}
	return text(h2.NextAllFiltered("div").First())
}

func extractAAAI(doc *goquery.Document) string {
	section := doc.Find("section.item.abstract").First()
	if section.Length() > 0 {
		section.Find("h2").Remove()
		if t := text(section); t != "" {
			return t
		}
	}

	var out string
	doc.Find("div.paper-section-wrap").EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if !strings.Contains(text(c.Find("h4").First()), "Abstract:") {
			return true
		}
		out = text(c.Find("div.attribute-output p").First())
		return out == ""
	})
	return out
}
