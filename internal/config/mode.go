package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/grqaser-crawler/internal/crawler"
)

// Mode names accepted in configuration and on the command line.
const (
	ModeDiscovery      = "discovery"
	ModeTargetedUpdate = "targeted-update"
	ModeBoundedTest    = "bounded-test"
)

const (
	defaultBoundedLimit = 5
	seedListPriority    = 10
)

// Mode is one of DiscoveryMode, TargetedUpdateMode or BoundedTestMode. The
// set is closed; callers dispatch with a type switch.
type Mode interface {
	Name() string
	mode()
}

// Seed is a URL placed on the frontier before discovery starts.
type Seed struct {
	URL      string
	Kind     crawler.URLKind
	Priority int
}

// DiscoveryMode walks listing pages from the seeds and follows detail links.
type DiscoveryMode struct {
	Seeds []Seed
	// TargetCount stops the run once this many books were saved; zero means
	// no target.
	TargetCount int
	// MaxListingPages caps how many listing pages may enqueue a next page.
	MaxListingPages int
	DetailPriority  int
}

// TargetedUpdateMode refetches stored books that match Criteria.
type TargetedUpdateMode struct {
	Criteria    crawler.RepairCriteria
	Limit       int
	Concurrency int
}

// BoundedTestMode is a targeted update capped to a handful of books.
type BoundedTestMode struct {
	Criteria    crawler.RepairCriteria
	Limit       int
	Concurrency int
}

// Name implements Mode.
func (DiscoveryMode) Name() string { return ModeDiscovery }

// Name implements Mode.
func (TargetedUpdateMode) Name() string { return ModeTargetedUpdate }

// Name implements Mode.
func (BoundedTestMode) Name() string { return ModeBoundedTest }

func (DiscoveryMode) mode()      {}
func (TargetedUpdateMode) mode() {}
func (BoundedTestMode) mode()    {}

// ParseModeName maps user input onto a canonical mode name.
func ParseModeName(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ModeDiscovery, "discover", "crawl":
		return ModeDiscovery, true
	case ModeTargetedUpdate, "update", "targeted_update":
		return ModeTargetedUpdate, true
	case ModeBoundedTest, "test", "bounded_test":
		return ModeBoundedTest, true
	default:
		return "", false
	}
}

// BuildMode builds the variant selected by c.Mode. baseURL roots the default seeds.
func (c RunConfig) BuildMode(baseURL string) (Mode, error) {
	name, ok := ParseModeName(c.Mode)
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", c.Mode)
	}
	concurrency := max(c.Concurrency, 1)
	switch name {
	case ModeDiscovery:
		seeds, err := c.seeds(baseURL)
		if err != nil {
			return nil, err
		}
		detail := c.DetailPriority
		if detail <= 0 {
			detail = 5
		}
		return DiscoveryMode{
			Seeds:           seeds,
			TargetCount:     c.TargetCount,
			MaxListingPages: c.MaxListingPages,
			DetailPriority:  detail,
		}, nil
	case ModeTargetedUpdate:
		return TargetedUpdateMode{
			Criteria:    c.Repair.Criteria(c.UpdateLimit),
			Limit:       c.UpdateLimit,
			Concurrency: concurrency,
		}, nil
	default:
		limit := c.TestLimit
		if limit <= 0 {
			limit = defaultBoundedLimit
		}
		return BoundedTestMode{
			Criteria:    c.Repair.Criteria(limit),
			Limit:       limit,
			Concurrency: concurrency,
		}, nil
	}
}

// seeds returns the configured seeds, or the catalog root followed by the
// first SeedPages listing pages at decreasing priority.
func (c RunConfig) seeds(baseURL string) ([]Seed, error) {
	if len(c.Seeds) > 0 {
		out := make([]Seed, 0, len(c.Seeds))
		for _, raw := range c.Seeds {
			normalized, err := crawler.NormalizeURL(raw)
			if err != nil {
				return nil, fmt.Errorf("seed %q: %w", raw, err)
			}
			kind := crawler.KindListingPage
			if _, isBook := crawler.BookIDFromURL(normalized); isBook && strings.Contains(normalized, "/books/") {
				kind = crawler.KindBookDetail
			}
			out = append(out, Seed{URL: normalized, Kind: kind, Priority: seedListPriority})
		}
		return out, nil
	}
	root := strings.TrimRight(baseURL, "/")
	if root == "" {
		return nil, errors.New("base url is required for default seeds")
	}
	out := []Seed{{URL: root + "/books", Kind: crawler.KindListingPage, Priority: seedListPriority}}
	for page := 1; page <= c.SeedPages; page++ {
		out = append(out, Seed{
			URL:      root + "/books?page=" + strconv.Itoa(page),
			Kind:     crawler.KindListingPage,
			Priority: max(seedListPriority-page, 1),
		})
	}
	return out, nil
}
