// Package puller pages candidate records out of the audience provider for
// one targeting combo under page and budget caps.
package puller

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-sourcing/internal/model"
	"github.com/sells-group/lead-sourcing/internal/resilience"
	"github.com/sells-group/lead-sourcing/pkg/audience"
)

// Sink receives accepted records in page order. Accept returns how many
// leads the record produced across the combo's workspaces.
type Sink interface {
	Accept(ctx context.Context, rec model.ExternalRecord, combo model.TargetingCombo) int
}

// ComboStatus describes how a combo finished.
type ComboStatus string

const (
	ComboFetched         ComboStatus = "fetched"
	ComboSkippedEmpty    ComboStatus = "skipped_empty"
	ComboBudgetExhausted ComboStatus = "budget_exhausted"
	ComboFailed          ComboStatus = "failed"
)

// ComboResult is the outcome of pulling one combo.
type ComboResult struct {
	ComboKey   string      `json:"combo_key"`
	Status     ComboStatus `json:"status"`
	QueryID    string      `json:"query_id,omitempty"`
	Preview    *int        `json:"preview,omitempty"`
	Pages      int         `json:"pages"`
	Records    int         `json:"records"`
	Inserted   int         `json:"inserted"`
	Unmappable int         `json:"unmappable"`
}

// Config holds pagination limits.
type Config struct {
	PageSize    int
	MaxPages    int
	Concurrency int
	DaysBack    int
	Retry       resilience.RetryConfig
}

// Puller runs the preview, provision and paginate sequence for a combo.
type Puller struct {
	client audience.Client
	cfg    Config
	log    *zap.Logger
}

// New creates a Puller. Zero limits fall back to 100 records per page, 10
// pages per combo and one page in flight.
func New(client audience.Client, cfg Config) *Puller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.StepPolicy(2, 0, 0)
	}
	return &Puller{
		client: client,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "puller")),
	}
}

// Filters builds the provider filter for a combo.
func (p *Puller) Filters(combo model.TargetingCombo) audience.Filters {
	return audience.Filters{
		Industries: combo.Industries,
		Geography:  combo.Geography,
		DaysBack:   p.cfg.DaysBack,
	}
}

// Pull processes one combo. The returned budget reflects every lead the
// sink inserted, including on error, so the caller can carry it forward.
func (p *Puller) Pull(ctx context.Context, combo model.TargetingCombo, budget Budget, sink Sink) (*ComboResult, Budget, error) {
	res := &ComboResult{ComboKey: combo.Key}
	log := p.log.With(zap.String("combo", combo.Key))

	cost := len(combo.WorkspaceIDs)
	if cost == 0 {
		res.Status = ComboSkippedEmpty
		return res, budget, nil
	}
	if budget.Remaining() < cost {
		res.Status = ComboBudgetExhausted
		return res, budget, nil
	}

	filters := p.Filters(combo)

	preview, err := p.client.Preview(ctx, filters)
	switch {
	case errors.Is(err, audience.ErrPreviewUnavailable):
		log.Debug("preview unavailable, provisioning directly")
	case err != nil:
		log.Warn("preview failed, provisioning directly", zap.Error(err))
	default:
		count := preview.Count
		res.Preview = &count
		if count == 0 {
			log.Info("preview reported no matches, skipping combo")
			res.Status = ComboSkippedEmpty
			return res, budget, nil
		}
	}

	retry := p.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("audience", "create_query")
	query, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*audience.Query, error) {
		return p.client.CreateQuery(ctx, "segment_pull "+combo.Key, filters)
	})
	if err != nil {
		res.Status = ComboFailed
		return res, budget, eris.Wrapf(err, "puller: combo %s: create query", combo.Key)
	}
	if query == nil || query.ID == "" {
		res.Status = ComboFailed
		return res, budget, eris.Errorf("puller: combo %s: create query returned no id", combo.Key)
	}
	res.QueryID = query.ID

	counter := newBudgetCounter(budget)
	err = p.paginate(ctx, combo, query.ID, cost, counter, sink, res)
	budget = counter.budget()
	if err != nil {
		res.Status = ComboFailed
		return res, budget, err
	}

	log.Info("combo pulled",
		zap.String("query_id", query.ID),
		zap.String("status", string(res.Status)),
		zap.Int("pages", res.Pages),
		zap.Int("records", res.Records),
		zap.Int("inserted", res.Inserted),
		zap.Int("budget_used", budget.Used),
	)
	return res, budget, nil
}

type fetched struct {
	page     *audience.Page
	reserved int
}

// paginate fetches up to Concurrency pages at a time and hands records to
// the sink strictly in page order. Budget is reserved in page order before
// each batch is fetched.
func (p *Puller) paginate(ctx context.Context, combo model.TargetingCombo, queryID string, cost int,
	counter *budgetCounter, sink Sink, res *ComboResult) error {

	res.Status = ComboFetched
	retry := p.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("audience", "fetch_page")

	for first := 1; first <= p.cfg.MaxPages; first += p.cfg.Concurrency {
		batch := make([]fetched, 0, p.cfg.Concurrency)
		for page := first; page < first+p.cfg.Concurrency && page <= p.cfg.MaxPages; page++ {
			reserved := counter.reserve(p.cfg.PageSize*cost, cost)
			if reserved == 0 {
				break
			}
			batch = append(batch, fetched{reserved: reserved})
		}
		if len(batch) == 0 {
			res.Status = ComboBudgetExhausted
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := range batch {
			page := first + i
			g.Go(func() error {
				pg, err := resilience.DoVal(gctx, retry, func(ctx context.Context) (*audience.Page, error) {
					return p.client.FetchPage(ctx, queryID, page, p.cfg.PageSize)
				})
				if err != nil {
					return eris.Wrapf(err, "puller: combo %s: page %d", combo.Key, page)
				}
				batch[i].page = pg
				return nil
			})
		}
		fetchErr := g.Wait()

		done := false
		for _, f := range batch {
			if done || f.page == nil {
				counter.settle(f.reserved, 0)
				done = true
				continue
			}

			res.Pages++
			res.Unmappable += f.page.Skipped
			used := 0
			for _, rec := range f.page.Records {
				if f.reserved-used < cost {
					res.Status = ComboBudgetExhausted
					done = true
					break
				}
				res.Records++
				inserted := sink.Accept(ctx, rec, combo)
				res.Inserted += inserted
				used += inserted
			}
			counter.settle(f.reserved, used)

			if !f.page.HasMore {
				done = true
			}
		}

		if fetchErr != nil {
			return fetchErr
		}
		if done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "puller: combo %s", combo.Key)
		}
	}
	return nil
}
