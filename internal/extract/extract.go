// Package extract turns listing-page HTML into property records.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/property-monitor/internal/listing"
)

// Selectors locate each field inside a listing card.
type Selectors struct {
	Card        string `mapstructure:"card"`
	Price       string `mapstructure:"price"`
	Address     string `mapstructure:"address"`
	Description string `mapstructure:"description"`
	Bedrooms    string `mapstructure:"bedrooms"`
	Link        string `mapstructure:"link"`
}

// DefaultSelectors match the Rightmove search results markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:        `div[class^="PropertyCard_propertyCardContainer__"]`,
		Price:       "div.PropertyPrice_price__VL65t",
		Address:     "address.PropertyAddress_address__LYRPq",
		Description: "p.PropertyCardSummary_summary__oIv57",
		Bedrooms:    "span.PropertyInformation_bedroomsCount___2b5R",
		Link:        "a.propertyCard-link",
	}
}

// Extractor parses listing pages with goquery.
type Extractor struct {
	sel    Selectors
	base   *url.URL
	logger *zap.Logger
}

// New builds an Extractor. Empty selectors fall back to the defaults; linkBase
// resolves relative hrefs and may be empty.
func New(sel Selectors, linkBase string, logger *zap.Logger) (*Extractor, error) {
	def := DefaultSelectors()
	fill := func(v *string, fallback string) {
		if strings.TrimSpace(*v) == "" {
			*v = fallback
		}
	}
	fill(&sel.Card, def.Card)
	fill(&sel.Price, def.Price)
	fill(&sel.Address, def.Address)
	fill(&sel.Description, def.Description)
	fill(&sel.Bedrooms, def.Bedrooms)
	fill(&sel.Link, def.Link)

	var base *url.URL
	if linkBase != "" {
		u, err := url.Parse(linkBase)
		if err != nil {
			return nil, fmt.Errorf("parse link base %q: %w", linkBase, err)
		}
		base = u
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{sel: sel, base: base, logger: logger}, nil
}

// Extract returns one record per card, in document order. Missing fields are
// nil and a card without a usable href has an empty Link. Unparseable input
// yields no records.
func (e *Extractor) Extract(content string) []listing.Record {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		e.logger.Warn("unparseable listing page", zap.Error(err))
		return nil
	}

	var records []listing.Record
	doc.Find(e.sel.Card).Each(func(i int, card *goquery.Selection) {
		rec := listing.Record{
			Price:       e.text(card, e.sel.Price, "price", i),
			Address:     e.text(card, e.sel.Address, "address", i),
			Description: e.text(card, e.sel.Description, "description", i),
			Bedrooms:    e.text(card, e.sel.Bedrooms, "bedrooms", i),
			Link:        e.link(card, i),
		}
		records = append(records, rec)
	})
	return records
}

func (e *Extractor) text(card *goquery.Selection, selector, field string, idx int) *string {
	node := card.Find(selector).First()
	if node.Length() == 0 {
		e.logger.Debug("field not found", zap.String("field", field), zap.Int("card", idx))
		return nil
	}
	v := strings.TrimSpace(node.Text())
	return &v
}

func (e *Extractor) link(card *goquery.Selection, idx int) string {
	href, ok := card.Find(e.sel.Link).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		e.logger.Debug("link not found", zap.Int("card", idx))
		return ""
	}
	if e.base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		e.logger.Debug("invalid link", zap.Int("card", idx), zap.String("href", href), zap.Error(err))
		return ""
	}
	return e.base.ResolveReference(ref).String()
}
