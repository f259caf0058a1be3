package parser

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/lodestone-ai/lodestone/internal/domain"
)

// HTMLParser handles text/html blobs, extracting visible text and using
// headings as section hints.
type HTMLParser struct{}

func (p *HTMLParser) Extract(_ context.Context, blob []byte) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(blob))
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeParse, "failed to parse html", err)
	}

	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	var sections []SectionHint

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	body.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		if goquery.NodeName(s)[0] == 'h' && len(goquery.NodeName(s)) == 2 {
			sections = append(sections, SectionHint{
				Title:  text,
				Offset: utf8.RuneCountInString(b.String()),
			})
		}
		b.WriteString(text)
		b.WriteString("\n")
	})

	text := strings.TrimRight(b.String(), " \n\t")
	if text == "" {
		// fall back to the whole-document text for pageless markup
		text = strings.TrimSpace(doc.Text())
	}

	return &Extraction{Text: text, Sections: sections}, nil
}
