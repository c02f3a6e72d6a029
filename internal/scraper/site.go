package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/property-monitor/internal/listing"
)

// IndexPlaceholder is replaced by the page offset in Site.URLTemplate.
const IndexPlaceholder = "{index}"

// Site describes the paginated search being scraped.
type Site struct {
	URLTemplate string `mapstructure:"url_template"`
	LinkBase    string `mapstructure:"link_base"`
	PageSize    int    `mapstructure:"page_size"`
}

// DefaultSite returns the Rightmove search the tool was built for.
func DefaultSite() Site {
	return Site{
		URLTemplate: "https://www.rightmove.co.uk/property-for-sale/find.html?locationIdentifier=REGION%5E87490&index={index}",
		LinkBase:    "https://www.rightmove.co.uk",
		PageSize:    24,
	}
}

// Validate checks the template and page size.
func (s Site) Validate() error {
	if s.PageSize <= 0 {
		return fmt.Errorf("site.page_size must be > 0, got %d", s.PageSize)
	}
	if !strings.Contains(s.URLTemplate, IndexPlaceholder) {
		return fmt.Errorf("site.url_template must contain %s", IndexPlaceholder)
	}
	u, err := url.Parse(strings.ReplaceAll(s.URLTemplate, IndexPlaceholder, "0"))
	if err != nil {
		return fmt.Errorf("site.url_template: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("site.url_template must be an http(s) URL")
	}
	return nil
}

// Offset converts a zero-based page number into the result offset.
func (s Site) Offset(page int) int {
	return page * s.PageSize
}

// Target builds the fetch target for a result offset.
func (s Site) Target(offset int) listing.FetchTarget {
	return listing.FetchTarget{URL: strings.ReplaceAll(s.URLTemplate, IndexPlaceholder, strconv.Itoa(offset))}
}
