package loader

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/galois26/disaster-ingester/internal/model"
	"github.com/galois26/disaster-ingester/internal/normalize"
	"github.com/galois26/disaster-ingester/internal/source"
	"github.com/galois26/disaster-ingester/internal/store"
)

// Replacer commits one page of rows atomically, replacing rows that share
// a fema_id.
type Replacer interface {
	ReplacePage(ctx context.Context, rows []model.Disaster) (store.PageResult, error)
}

// Loader normalizes fetched pages and writes them, one commit per page.
type Loader struct {
	store Replacer
	log   logrus.FieldLogger
}

func New(store Replacer, log logrus.FieldLogger) *Loader {
	return &Loader{store: store, log: log}
}

func (l *Loader) Load(ctx context.Context, page source.Page) (store.PageResult, error) {
	if len(page.Records) == 0 {
		return store.PageResult{}, nil
	}
	rows := lo.Map(page.Records, func(d model.Declaration, _ int) model.Disaster {
		return normalize.Disaster(d)
	})
	res, err := l.store.ReplacePage(ctx, rows)
	if err != nil {
		return store.PageResult{}, fmt.Errorf("load page %d: %w", page.Index, err)
	}
	if res.Replaced > 0 {
		l.log.WithFields(logrus.Fields{"page": page.Index, "replaced": res.Replaced}).Info("replaced existing disasters")
	}
	return res, nil
}
