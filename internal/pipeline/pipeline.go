package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-scoring/internal/metrics"
	"github.com/sells-group/lead-scoring/internal/model"
	"github.com/sells-group/lead-scoring/internal/resilience"
	"github.com/sells-group/lead-scoring/internal/resolver"
	"github.com/sells-group/lead-scoring/internal/scoring"
	"github.com/sells-group/lead-scoring/internal/store"
	"github.com/sells-group/lead-scoring/pkg/hubspot"
)

// Pipeline runs the full scoring flow for a lead: resolve, classify, fan out
// the scoring modules, aggregate, persist, and write the tier back to the CRM.
type Pipeline struct {
	resolver *resolver.Resolver
	modules  []scoring.Module
	provider *scoring.Provider
	store    store.Store
	crm      hubspot.Client
	dedup    *Dedup
	retry    resilience.RetryConfig

	// locks serializes persistence per lead so concurrent runs cannot
	// interleave upserts.
	locks keyedLocks
}

// Options configures optional pipeline behavior.
type Options struct {
	// Retry overrides the default retry policy for CRM resolution.
	Retry *resilience.RetryConfig

	// CRM enables tier write-back when set. Resolution always goes through
	// the resolver; write-back is a separate, best-effort concern.
	CRM hubspot.Client
}

// New assembles a pipeline.
func New(res *resolver.Resolver, modules []scoring.Module, provider *scoring.Provider, st store.Store, opts Options) *Pipeline {
	retry := resilience.DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	retry.ShouldRetry = resilience.IsTransient

	return &Pipeline{
		resolver: res,
		modules:  modules,
		provider: provider,
		store:    st,
		crm:      opts.CRM,
		dedup:    NewDedup(),
		retry:    retry,
	}
}

// Run scores one lead. Webhook-triggered runs inside the dedup window
// short-circuit to the previously persisted record (nil when none exists).
// A lead missing from the CRM returns hubspot.ErrNotFound and persists
// nothing.
func (p *Pipeline) Run(ctx context.Context, leadID string, source model.RunSource) (*model.ScoredRecord, error) {
	started := time.Now()
	log := zap.L().With(
		zap.String("run_id", uuid.New().String()),
		zap.String("lead_id", leadID),
		zap.String("source", string(source)),
	)

	doc, err := p.provider.Get()
	if err != nil {
		metrics.RunsTotal.WithLabelValues(string(source), metrics.OutcomeFailed).Inc()
		return nil, eris.Wrap(err, "pipeline: load scoring document")
	}

	if source == model.SourceWebhook {
		window := time.Duration(doc.DedupWindowSeconds()) * time.Second
		if p.dedup.Recently(leadID, window) {
			log.Info("duplicate event inside dedup window, skipping")
			metrics.RunsTotal.WithLabelValues(string(source), metrics.OutcomeDeduplicated).Inc()
			return p.priorRecord(ctx, leadID)
		}
	}

	retry := p.retry
	retry.OnRetry = resilience.RetryLogger("hubspot", "resolve lead")
	lead, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.ResolvedLead, error) {
		return p.resolver.Resolve(ctx, leadID)
	})
	if err != nil {
		outcome := metrics.OutcomeFailed
		if eris.Is(err, hubspot.ErrNotFound) {
			outcome = metrics.OutcomeNotFound
			log.Warn("lead not found in CRM, nothing to score")
		} else {
			log.Error("lead resolution failed", zap.Error(err))
		}
		metrics.RunsTotal.WithLabelValues(string(source), outcome).Inc()
		return nil, err
	}

	leadType := Classify(lead, doc)
	log = log.With(zap.String("lead_type", string(leadType)))

	results := p.runModules(ctx, lead, leadType, doc, log)
	composite, weightsUsed := scoring.Aggregate(results, doc.WeightsFor(leadType))
	tier := scoring.TierFor(doc, composite)

	record := &model.ScoredRecord{
		LeadID:         leadID,
		LeadType:       leadType,
		CompositeScore: composite,
		Tier:           tier,
		ModuleResults:  results,
		WeightsUsed:    weightsUsed,
		RawInputs: model.RawInputs{
			LeadProperties:    lead.LeadProperties,
			ContactID:         lead.ContactID,
			MergedProperties:  lead.Properties(),
			CompanyProperties: lead.CompanyProperties,
			FormCount:         len(lead.FormSubmissions),
			Errors:            collectErrors(lead, results),
		},
		ScoredAt: time.Now().UTC(),
	}

	unlock := p.locks.lock(leadID)
	err = p.store.UpsertScore(ctx, record)
	unlock()
	if err != nil {
		metrics.RunsTotal.WithLabelValues(string(source), metrics.OutcomeFailed).Inc()
		return nil, eris.Wrapf(err, "pipeline: persist score for lead %s", leadID)
	}

	p.writeBack(ctx, record, log)

	outcome := metrics.OutcomeScored
	if composite != nil {
		log.Info("lead scored",
			zap.Float64("composite", *composite),
			zap.String("tier", tier),
			zap.Duration("took", time.Since(started)))
	} else {
		outcome = metrics.OutcomeDegraded
		log.Warn("lead persisted without composite, every module failed",
			zap.Duration("took", time.Since(started)))
	}
	metrics.RunsTotal.WithLabelValues(string(source), outcome).Inc()
	metrics.RunDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	return record, nil
}

// runModules fans the selected modules out concurrently. Module failures are
// values on the result, never errors, so the group always completes.
func (p *Pipeline) runModules(ctx context.Context, lead *model.ResolvedLead, leadType model.LeadType, doc *scoring.Document, log *zap.Logger) map[string]model.ModuleResult {
	selected := scoring.ModulesFor(p.modules, lead, leadType, doc)

	var mu sync.Mutex
	results := make(map[string]model.ModuleResult, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range selected {
		g.Go(func() error {
			res := m.Score(gctx, lead, leadType, doc)
			if res.Failed() {
				log.Warn("scoring module failed",
					zap.String("module", m.Name()),
					zap.String("error", res.Error))
				metrics.ModuleFailures.WithLabelValues(m.Name()).Inc()
			}
			mu.Lock()
			results[m.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines never return errors
	return results
}

// priorRecord returns whatever was last persisted for the lead, or nil when
// it was never scored.
func (p *Pipeline) priorRecord(ctx context.Context, leadID string) (*model.ScoredRecord, error) {
	record, err := p.store.GetScore(ctx, leadID)
	if err != nil {
		if eris.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "pipeline: load prior record for lead %s", leadID)
	}
	return record, nil
}

// writeBack pushes the tier and breakdown to the CRM. Failures are logged and
// swallowed: the persisted record is the source of truth.
func (p *Pipeline) writeBack(ctx context.Context, record *model.ScoredRecord, log *zap.Logger) {
	if p.crm == nil || record.Tier == "" {
		return
	}
	display := scoring.FormatDisplay(record.Tier, record.CompositeScore)
	details := scoring.FormatDetails(record)
	if err := p.crm.UpdateLeadScore(ctx, record.LeadID, display, details); err != nil {
		log.Warn("tier write-back failed", zap.Error(err))
	}
}

func collectErrors(lead *model.ResolvedLead, results map[string]model.ModuleResult) []string {
	errs := append([]string(nil), lead.Errors...)
	for name, res := range results {
		if res.Failed() {
			errs = append(errs, name+": "+res.Error)
		}
	}
	return errs
}

// keyedLocks hands out a mutex per lead ID. Entries are retained for the
// process lifetime; lead cardinality is bounded by CRM volume.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
