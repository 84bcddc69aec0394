// Package extract pulls book candidates and follow-up links out of grqaser
// listing and detail pages.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

const (
	titleSelectors       = "h1, .book-title, .title"
	authorSelectors      = ".author, .book-author"
	descriptionSelectors = ".description, .book-description, .summary"
	durationSelectors    = ".duration, .book-duration"
	ratingSelectors      = ".rating, .book-rating"
	coverSelectors       = `img[alt="Book Cover"], img[alt*="Cover"], .book-cover img, .cover img`
	detailLinkSelectors  = `a[href*="/book/"], a[href*="/books/"]`

	itemTitleSelectors    = `h3, h4, .title, [class*="title"]`
	itemAuthorSelectors   = `.author, [class*="author"]`
	itemDurationSelectors = `.duration, [class*="duration"], .time`

	minDescriptionRunes = 50
)

// listingItemSelectors are tried in order; the first one that matches any
// element defines the items on a listing page.
var listingItemSelectors = []string{
	".book-item",
	".book-card",
	".book",
	`[class*="book"]`,
	".item",
	".card",
}

var (
	authorLabel   = regexp.MustCompile(`(?m)Հեղինակ:\s*([^()\n]+?)\s*(?:\(|$)`)
	categoryLabel = regexp.MustCompile(`(?m)Կատեգորիա:\s*([^()\n]+?)\s*(?:\(|$)`)
	durationText  = regexp.MustCompile(`\d+\s*ժ\s*\d+\s*ր`)
	mediaMP3      = regexp.MustCompile(`https://media\.grqaser\.org/[^"'\s<>]+\.mp3`)
	labelMarkers  = []string{"Հեղինակ:", "Ընթերցող:", "Կատեգորիա:"}
)

// Extractor parses pages with goquery.
type Extractor struct{}

// New builds an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses body fetched from pageURL according to kind.
func (e *Extractor) Extract(pageURL string, body []byte, kind crawler.URLKind) (crawler.PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("parse page url: %w", err)
	}

	result := crawler.PageResult{URL: pageURL}
	if kind == crawler.KindBookDetail {
		if c, ok := extractDetail(doc, base, string(body)); ok {
			result.Candidates = []crawler.BookCandidate{c}
		}
		return result, nil
	}

	result.Candidates = extractListing(doc, base)
	result.DetailURLs = extractDetailLinks(doc, base)
	result.NextPageURL = crawler.NextPageURL(pageURL)
	return result, nil
}

func extractDetail(doc *goquery.Document, base *url.URL, raw string) (crawler.BookCandidate, bool) {
	title := firstText(doc.Selection, titleSelectors)
	if title == "" {
		return crawler.BookCandidate{}, false
	}
	bodyText := doc.Find("body").Text()

	c := crawler.BookCandidate{
		SourceURL:   base.String(),
		Title:       title,
		Author:      firstText(doc.Selection, authorSelectors),
		Description: firstText(doc.Selection, descriptionSelectors),
		Duration:    firstText(doc.Selection, durationSelectors),
		Rating:      firstText(doc.Selection, ratingSelectors),
	}
	if id, ok := crawler.BookIDFromURL(base.String()); ok {
		c.ID = id
	}
	if c.Author == "" {
		c.Author = labelValue(authorLabel, bodyText)
	}
	c.Category = labelValue(categoryLabel, bodyText)
	if c.Description == "" {
		c.Description = descriptionParagraph(doc)
	}
	if c.Duration == "" {
		c.Duration = durationText.FindString(bodyText)
	}
	c.CoverImageURL = coverImage(doc, base)

	audio, download := audioLinks(doc, base, raw)
	if len(audio) > 0 {
		c.MainAudioURL = audio[0]
		c.ChapterURLs = audio
	}
	c.DownloadURL = download
	return c, true
}

func extractListing(doc *goquery.Document, base *url.URL) []crawler.BookCandidate {
	var items *goquery.Selection
	for _, sel := range listingItemSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			items = found
			break
		}
	}
	if items == nil {
		return nil
	}

	var out []crawler.BookCandidate
	items.Each(func(_ int, item *goquery.Selection) {
		title := firstText(item, itemTitleSelectors)
		if title == "" {
			return
		}
		c := crawler.BookCandidate{
			Title:    title,
			Author:   firstText(item, itemAuthorSelectors),
			Duration: firstText(item, itemDurationSelectors),
		}
		if src, ok := item.Find("img").First().Attr("src"); ok {
			c.CoverImageURL = resolve(base, src)
		}
		if href, ok := item.Find("a[href]").First().Attr("href"); ok {
			c.SourceURL = resolve(base, href)
			if id, ok := crawler.BookIDFromURL(c.SourceURL); ok {
				c.ID = id
			}
		}
		if src, ok := item.Find("audio source[src], audio[src]").First().Attr("src"); ok {
			c.MainAudioURL = resolve(base, src)
		}
		out = append(out, c)
	})
	return out
}

func extractDetailLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	var out []string
	doc.Find(detailLinkSelectors).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs, err := crawler.NormalizeURL(resolve(base, href))
		if err != nil {
			return
		}
		u, err := url.Parse(abs)
		if err != nil || !strings.EqualFold(u.Hostname(), base.Hostname()) {
			return
		}
		if _, ok := crawler.BookIDFromURL(abs); !ok {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func firstText(s *goquery.Selection, selectors string) string {
	var text string
	s.Find(selectors).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text = strings.TrimSpace(el.Text())
		return text == ""
	})
	return text
}

func labelValue(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func descriptionParagraph(doc *goquery.Document) string {
	var desc string
	doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		text := strings.TrimSpace(p.Text())
		if utf8.RuneCountInString(text) <= minDescriptionRunes {
			return true
		}
		for _, marker := range labelMarkers {
			if strings.Contains(text, marker) {
				return true
			}
		}
		desc = text
		return false
	})
	return desc
}

func coverImage(doc *goquery.Document, base *url.URL) string {
	if src, ok := doc.Find(coverSelectors).First().Attr("src"); ok && src != "" {
		return resolve(base, src)
	}
	if src, ok := doc.Find(`img[src*=".png"]`).First().Attr("src"); ok {
		return resolve(base, src)
	}
	return ""
}

// audioLinks gathers playable mp3 URLs in document order. Bundle links (zip
// archives of every chapter) are reported separately as the download URL.
func audioLinks(doc *goquery.Document, base *url.URL, raw string) ([]string, string) {
	var (
		audio    []string
		download string
		seen     = make(map[string]struct{})
	)
	add := func(ref string) {
		if ref == "" {
			return
		}
		abs := resolve(base, ref)
		if isBundle(abs) {
			if download == "" {
				download = abs
			}
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		audio = append(audio, abs)
	}

	doc.Find("audio source[src], audio[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		add(src)
	})
	doc.Find(`a[href*=".mp3"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		add(href)
	})
	for _, m := range mediaMP3.FindAllString(raw, -1) {
		add(m)
	}
	if download == "" {
		doc.Find(`a[href*="` + crawler.BundleAudioMarker + `"], a[href$=".zip"]`).EachWithBreak(
			func(_ int, a *goquery.Selection) bool {
				href, _ := a.Attr("href")
				download = resolve(base, href)
				return download == ""
			})
	}
	return audio, download
}

func isBundle(u string) bool {
	lower := strings.ToLower(u)
	return strings.Contains(lower, crawler.BundleAudioMarker) || strings.HasSuffix(lower, ".zip")
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}
