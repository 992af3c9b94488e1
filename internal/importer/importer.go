// Package importer pulls localities from an Overpass endpoint into a
// domain. Imported records carry source-tagged upstream identifiers so a
// rerun recognizes what it has already ingested.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	catalogmodels "gazetteer/internal/catalog/models"
	locmodels "gazetteer/internal/locality/models"
	"gazetteer/internal/locality/service"
	"gazetteer/internal/platform/metrics"
	dErrors "gazetteer/pkg/domain-errors"
	"gazetteer/pkg/geo"
	audit "gazetteer/pkg/platform/audit"
	"gazetteer/pkg/requestcontext"
)

// osmSource prefixes upstream ids minted from Overpass elements.
const osmSource = "osm"

// LocalityWriter is the slice of the locality service the importer needs.
type LocalityWriter interface {
	Create(ctx context.Context, in service.CreateInput) (string, error)
	FindByUpstreamID(ctx context.Context, upstreamID string) (*locmodels.Locality, error)
}

// SpecResolver supplies the domain's attribute keys so foreign tags can be
// filtered down to the domain's shape.
type SpecResolver interface {
	ResolveByDomain(ctx context.Context, domainName string) ([]catalogmodels.Specification, error)
}

// AuditPublisher receives the completion event of a run.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Projector materializes full projections for the CSV export.
type Projector interface {
	ProjectInBBox(ctx context.Context, domain string, box geo.BBox) ([]locmodels.Projection, error)
}

// Importer fetches Overpass elements and writes them through the regular
// validated create path, one at a time.
type Importer struct {
	endpoint   string
	client     *http.Client
	limiter    *rate.Limiter
	localities LocalityWriter
	resolver   SpecResolver
	projector  Projector

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor AuditPublisher
}

// Option configures the Importer.
type Option func(*Importer)

func WithHTTPClient(client *http.Client) Option {
	return func(i *Importer) { i.client = client }
}

// WithRateLimit overrides the Overpass request pacing.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(i *Importer) { i.limiter = rate.NewLimiter(limit, burst) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(i *Importer) { i.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Importer) { i.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(i *Importer) { i.auditor = publisher }
}

// WithProjector enables the CSV export.
func WithProjector(p Projector) Option {
	return func(i *Importer) { i.projector = p }
}

func New(endpoint string, localities LocalityWriter, resolver SpecResolver, opts ...Option) *Importer {
	i := &Importer{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: 90 * time.Second},
		localities: localities,
		resolver:   resolver,
		// Public Overpass instances ask for at most one query in flight
		// and generous pauses between them.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Query selects Overpass nodes by amenity tag within a bounding box.
type Query struct {
	Amenity string
	BBox    geo.BBox
}

// QL renders the query in Overpass QL. Overpass boxes are south,west,
// north,east.
func (q Query) QL() string {
	return fmt.Sprintf(`[out:json][timeout:60];node["amenity"=%q](%v,%v,%v,%v);out body;`,
		q.Amenity, q.BBox.MinLat, q.BBox.MinLon, q.BBox.MaxLat, q.BBox.MaxLon)
}

type overpassElement struct {
	Type string            `json:"type"`
	ID   int64             `json:"id"`
	Lat  float64           `json:"lat"`
	Lon  float64           `json:"lon"`
	Tags map[string]string `json:"tags"`
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

// Report summarizes one run.
type Report struct {
	Fetched  int `json:"fetched"`
	Created  int `json:"created"`
	Skipped  int `json:"skipped"`
	Rejected int `json:"rejected"`
}

// Run imports the query's elements into the given domain. Elements already
// known by upstream id are skipped; elements the domain rejects are counted
// and logged but do not abort the run.
func (i *Importer) Run(ctx context.Context, domain string, q Query) (*Report, error) {
	specs, err := i.resolver.ResolveByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(specs))
	for _, spec := range specs {
		known[spec.Key()] = true
	}

	elements, err := i.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	report := &Report{Fetched: len(elements)}
	for _, el := range elements {
		if el.Type != "node" {
			continue
		}
		upstreamID := fmt.Sprintf("%s¶%s/%d", osmSource, el.Type, el.ID)

		if _, err := i.localities.FindByUpstreamID(ctx, upstreamID); err == nil {
			report.Skipped++
			continue
		} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, err
		}

		values := make(map[string]string)
		for tag, v := range el.Tags {
			if known[tag] {
				values[tag] = v
			}
		}

		_, err := i.localities.Create(ctx, service.CreateInput{
			Domain:     domain,
			Geom:       geo.Point{Lon: el.Lon, Lat: el.Lat},
			Values:     values,
			UpstreamID: upstreamID,
		})
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeValidation) {
				report.Rejected++
				i.log(ctx, "element rejected by domain specification",
					"upstream_id", upstreamID, "error", err)
				continue
			}
			return nil, err
		}
		report.Created++
	}

	if i.metrics != nil {
		i.metrics.IncrementImportRuns()
	}
	if i.auditor != nil {
		_ = i.auditor.Emit(ctx, audit.Event{
			UserID:    requestcontext.UserID(ctx),
			Subject:   domain,
			Action:    string(audit.EventImportCompleted),
			RequestID: requestcontext.RequestID(ctx),
		})
	}
	i.log(ctx, "import completed", "domain", domain,
		"fetched", report.Fetched, "created", report.Created,
		"skipped", report.Skipped, "rejected", report.Rejected)
	return report, nil
}

// Export writes the domain's localities inside the box as CSV, one column
// per active specification in resolution order.
func (i *Importer) Export(ctx context.Context, w io.Writer, domain string, box geo.BBox) error {
	if i.projector == nil {
		return dErrors.New(dErrors.CodeInternal, "export is not configured")
	}
	specs, err := i.resolver.ResolveByDomain(ctx, domain)
	if err != nil {
		return err
	}
	rows, err := i.projector.ProjectInBBox(ctx, domain, box)
	if err != nil {
		return err
	}
	return ExportCSV(w, specs, rows)
}

func (i *Importer) fetch(ctx context.Context, q Query) ([]overpassElement, error) {
	if err := i.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{"data": {q.QL()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build overpass request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "overpass request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeInternal, "overpass returned status %d", resp.StatusCode)
	}

	var decoded overpassResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode overpass response")
	}
	return decoded.Elements, nil
}

func (i *Importer) log(ctx context.Context, msg string, args ...any) {
	if i.logger == nil {
		return
	}
	i.logger.InfoContext(ctx, msg, args...)
}
