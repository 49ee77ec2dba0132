package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/galois26/disaster-ingester/internal/config"
	"github.com/galois26/disaster-ingester/internal/model"
	"github.com/galois26/disaster-ingester/internal/util"
)

// OpenFEMA pages through a DisasterDeclarationsSummaries dataset.
type OpenFEMA struct {
	cfg    config.SourceConfig
	client *http.Client
	now    func() time.Time
	log    logrus.FieldLogger
}

type Option func(*OpenFEMA)

func WithHTTPClient(c *http.Client) Option {
	return func(s *OpenFEMA) { s.client = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *OpenFEMA) { s.now = now }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *OpenFEMA) { s.log = l }
}

func New(cfg config.SourceConfig, opts ...Option) *OpenFEMA {
	s := &OpenFEMA{cfg: cfg, now: time.Now, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		s.client = util.NewHTTPClient(cfg.HTTP)
	}
	return s
}

func (s *OpenFEMA) Name() string { return "openfema" }

// Start returns the cursor of the first page, anchored on the current time.
func (s *OpenFEMA) Start() Cursor {
	return Cursor{
		Since:    lookbackStart(s.now(), s.cfg.LookbackDays),
		PageSize: s.cfg.PageSize,
	}
}

// Query builds the OData parameters for the page at cur.
func (s *OpenFEMA) Query(cur Cursor) url.Values {
	q := url.Values{}
	q.Set("$select", strings.Join(model.Fields, ","))
	q.Set("$filter", endDateFilter(cur.Since))
	q.Set("$orderby", model.FieldID)
	q.Set("$top", strconv.Itoa(cur.PageSize))
	q.Set("$skip", strconv.Itoa(cur.Offset()))
	if s.cfg.UseInlineCount() {
		q.Set("$inlinecount", "allpages")
	}
	return q
}

// Pages fetches one page at a time, each request issued only after the
// caller has consumed the previous page.
func (s *OpenFEMA) Pages(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		cur := s.Start()
		for {
			page, err := s.FetchPage(ctx, cur)
			if err != nil {
				yield(Page{Index: cur.PageIndex, Offset: cur.Offset(), Total: -1}, err)
				return
			}
			last := page.Last(cur.PageSize)
			if last {
				s.log.WithFields(logrus.Fields{
					"page":    page.Index,
					"records": len(page.Records),
					"total":   page.Total,
				}).Debug("openfema: last page")
			}
			if len(page.Records) > 0 && !yield(page, nil) {
				return
			}
			if last {
				return
			}
			cur = cur.Next()
		}
	}
}

// FetchPage issues a single GET for the page at cur and validates the body.
func (s *OpenFEMA) FetchPage(ctx context.Context, cur Cursor) (Page, error) {
	u, err := url.Parse(s.cfg.Endpoint())
	if err != nil {
		return Page{}, fmt.Errorf("%w: endpoint: %v", ErrTransport, err)
	}
	u.RawQuery = s.Query(cur).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	s.log.WithField("url", u.String()).Debug("openfema: GET")
	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Page{}, fmt.Errorf("%w: openfema %d: %s", ErrTransport, resp.StatusCode, bodyHead(resp.Body))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	page, err := s.decode(raw, cur)
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

func (s *OpenFEMA) decode(raw []byte, cur Cursor) (Page, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	items, ok := body[s.cfg.Entity]
	if !ok || string(items) == "null" {
		return Page{}, fmt.Errorf("%w: missing key %q", ErrMalformedResponse, s.cfg.Entity)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(items, &elems); err != nil {
		return Page{}, fmt.Errorf("%w: key %q is not a list: %v", ErrMalformedResponse, s.cfg.Entity, err)
	}
	if len(elems) > cur.PageSize {
		return Page{}, fmt.Errorf("%w: %d records for page size %d", ErrMalformedResponse, len(elems), cur.PageSize)
	}

	page := Page{
		Index:   cur.PageIndex,
		Offset:  cur.Offset(),
		Records: make([]model.Declaration, 0, len(elems)),
		Total:   -1,
	}
	for i, e := range elems {
		var d model.Declaration
		if err := json.Unmarshal(e, &d); err != nil {
			return Page{}, fmt.Errorf("%w: page %d item %d: %w", ErrMalformedRecord, cur.PageIndex, i, err)
		}
		page.Records = append(page.Records, d)
	}

	if s.cfg.UseInlineCount() {
		if n, ok := metadataCount(body["metadata"]); ok {
			if n >= page.Offset+len(page.Records) {
				page.Total = n
			} else {
				s.log.WithFields(logrus.Fields{"count": n, "offset": page.Offset}).
					Warn("openfema: metadata.count behind offset, falling back to short-page check")
			}
		}
	}
	return page, nil
}
