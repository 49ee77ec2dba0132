package source

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/galois26/disaster-ingester/internal/model"
)

// Failure classes of a page fetch. None of them means "no more data": the
// end of the sequence is signalled only by the sequence stopping cleanly.
var (
	ErrTransport         = errors.New("transport failure")
	ErrMalformedResponse = errors.New("malformed response")
	ErrMalformedRecord   = errors.New("malformed record")
)

// Source yields declaration pages until the upstream data is exhausted or
// a fetch fails; a failure is yielded once and ends the sequence.
type Source interface {
	Name() string
	Pages(ctx context.Context) iter.Seq2[Page, error]
}

// Cursor is the position of the next page request.
type Cursor struct {
	Since     time.Time // lower bound on incidentEndDate (exclusive)
	PageSize  int
	PageIndex int // pages fetched so far
}

func (c Cursor) Offset() int { return c.PageIndex * c.PageSize }

func (c Cursor) Next() Cursor {
	c.PageIndex++
	return c
}

type Page struct {
	Index   int
	Offset  int
	Records []model.Declaration
	Total   int // server-reported match count, -1 when unknown
}

// Last reports whether no page follows p. A short page always ends the
// sequence; a known total ends it as soon as it has been reached, so an
// exact multiple of the page size needs no trailing empty request.
func (p Page) Last(pageSize int) bool {
	n := len(p.Records)
	if n < pageSize {
		return true
	}
	return p.Total >= 0 && p.Offset+n >= p.Total
}
