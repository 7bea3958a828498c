// Package integration handles external service interactions
package integration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/abelzeko/river-monitor/internal/entities"
)

const (
	// DefaultSourceURL is the ČHMÚ station page for the Labe profile
	DefaultSourceURL = "https://hydro.chmi.cz/hppsoldv/hpps_prfdata.php?seq=307338"
	// DefaultUserAgent mimics a desktop browser; the source rejects bare clients
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	// DefaultTimeout bounds the whole request including body download
	DefaultTimeout = 30 * time.Second

	// measuredTableSelector picks the observed-data table; the page also carries forecast tables
	measuredTableSelector = "div.tborder.center_text table"
	headerWord            = "datum"
	minCells              = 4
)

// ErrUnexpectedStatus is returned when the source answers with a non-2xx status
var ErrUnexpectedStatus = errors.New("unexpected status code")

// WaterScraper provides functionality to scrape measurements from the hydrology service
type WaterScraper struct {
	sourceURL string
	userAgent string
	client    *http.Client
}

// ScraperOption customises a WaterScraper
type ScraperOption func(*WaterScraper)

// WithTimeout bounds each fetch
func WithTimeout(d time.Duration) ScraperOption {
	return func(ws *WaterScraper) {
		if d > 0 {
			ws.client.Timeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) ScraperOption {
	return func(ws *WaterScraper) {
		if ua != "" {
			ws.userAgent = ua
		}
	}
}

// NewWaterScraper creates a new water data scraper
func NewWaterScraper(url string, opts ...ScraperOption) *WaterScraper {
	if url == "" {
		url = DefaultSourceURL
	}
	ws := &WaterScraper{
		sourceURL: url,
		userAgent: DefaultUserAgent,
		client:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(ws)
	}
	return ws
}

// SourceURL returns the page this scraper reads
func (ws *WaterScraper) SourceURL() string {
	return ws.sourceURL
}

// FetchDocument retrieves and parses the remote page
func (ws *WaterScraper) FetchDocument(ctx context.Context) (*goquery.Document, error) {
	log.Printf("Sending HTTP request to %s", ws.sourceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ws.sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", ws.userAgent)

	res, err := ws.client.Do(req)
	if err != nil {
		log.Printf("Error fetching data: %v", err)
		return nil, fmt.Errorf("failed to fetch the webpage: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.Printf("Received unexpected status code: %d %s", res.StatusCode, res.Status)
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status)
	}
	log.Printf("Successfully received HTTP response with status: %s", res.Status)

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		log.Printf("Error parsing HTML: %v", err)
		return nil, fmt.Errorf("failed to parse the webpage: %w", err)
	}
	return doc, nil
}

// Scrape fetches the page and runs extraction and record building over it
func (ws *WaterScraper) Scrape(ctx context.Context) ([]entities.MeasurementRecord, *entities.ParseTrace, error) {
	doc, err := ws.FetchDocument(ctx)
	if err != nil {
		return nil, nil, err
	}

	rows := ExtractRows(doc)
	records, traced := BuildRecords(rows)

	trace := &entities.ParseTrace{
		FetchTime:      time.Now(),
		SourceURL:      ws.sourceURL,
		TotalRowsFound: CountTableRows(doc),
		Rows:           traced,
		TotalProcessed: len(records),
	}

	skipped := 0
	for _, r := range traced {
		if r.Status == entities.RowSkipped {
			skipped++
		}
	}
	log.Printf("Parsed %d rows, extracted %d records, skipped %d rows", len(traced), len(records), skipped)
	return records, trace, nil
}

// CountTableRows returns the number of rows in the measured-data table, header included
func CountTableRows(doc *goquery.Document) int {
	table := doc.Find(measuredTableSelector).First()
	if table.Length() == 0 {
		return 0
	}
	return table.Find("tr").Length()
}

// ExtractRows walks the measured-data table and returns one diagnostic per row after the header.
// A missing table yields an empty slice; deciding whether that is fatal is up to the caller.
func ExtractRows(doc *goquery.Document) []entities.RawRow {
	table := doc.Find(measuredTableSelector).First()
	if table.Length() == 0 {
		log.Printf("Measured-data table not found in document")
		return []entities.RawRow{}
	}

	var rows []entities.RawRow
	table.Find("tr").Each(func(index int, tr *goquery.Selection) {
		// First row is the column header
		if index == 0 {
			return
		}

		cells := tr.Find("td")
		row := entities.RawRow{
			Number:    index,
			CellCount: cells.Length(),
		}

		if cells.Length() < minCells {
			row.Status = entities.RowSkipped
			row.Reason = entities.ReasonInsufficientCells
			rows = append(rows, row)
			return
		}

		row.DateTime = strings.TrimSpace(cells.Eq(0).Text())
		row.Level = strings.TrimSpace(cells.Eq(1).Text())
		row.Flow = strings.TrimSpace(cells.Eq(2).Text())
		row.Temperature = strings.TrimSpace(cells.Eq(3).Text())

		// Repeated header rows show up mid-table on some pages
		if row.DateTime == "" || strings.Contains(strings.ToLower(row.DateTime), headerWord) {
			row.Status = entities.RowSkipped
			row.Reason = entities.ReasonHeaderOrEmpty
		}
		rows = append(rows, row)
	})

	if rows == nil {
		return []entities.RawRow{}
	}
	return rows
}

// BuildRecords turns pending rows into measurement records, in table order.
// Rows whose datetime cannot be parsed are marked skipped but keep their parsed numbers in the trace;
// numeric fields may each be nil. The returned diagnostics are a copy; rows is left untouched.
func BuildRecords(rows []entities.RawRow) ([]entities.MeasurementRecord, []entities.RawRow) {
	traced := make([]entities.RawRow, len(rows))
	copy(traced, rows)

	records := make([]entities.MeasurementRecord, 0, len(rows))
	for i := range traced {
		row := &traced[i]
		if !row.Pending() {
			continue
		}

		parsed := &entities.ParsedValues{
			Level:       ParseNumericValue(row.Level),
			Flow:        ParseNumericValue(row.Flow),
			Temperature: ParseNumericValue(row.Temperature),
		}
		row.Parsed = parsed

		ts, ok := ParseDateTime(row.DateTime)
		if !ok {
			log.Printf("Warning: Skipping row %d with invalid timestamp format: %q", row.Number, row.DateTime)
			row.Status = entities.RowSkipped
			row.Reason = entities.ReasonBadDateTime
			continue
		}
		parsed.DateTime = &ts

		rec := entities.MeasurementRecord{
			Timestamp:   ts,
			WaterLevel:  parsed.Level,
			FlowRate:    parsed.Flow,
			Temperature: parsed.Temperature,
		}
		row.Status = entities.RowAdded
		records = append(records, rec)
	}
	return records, traced
}
