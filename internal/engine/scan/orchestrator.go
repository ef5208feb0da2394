// Package scan sequences the tiered recognition pipeline over documents:
// explicit declarations, vocabulary filtering, candidate generation,
// rejection caching, relevance scoring, confidence fusion, and registry
// mention updates, plus the promotion state machine for recurring unknown
// spans.
package scan

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/storyweave/lorekeeper/internal/engine/candidate"
	"github.com/storyweave/lorekeeper/internal/engine/confidence"
	"github.com/storyweave/lorekeeper/internal/engine/lingua"
	"github.com/storyweave/lorekeeper/internal/engine/matcher"
	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/engine/rejection"
	"github.com/storyweave/lorekeeper/internal/engine/relevance"
	"github.com/storyweave/lorekeeper/internal/engine/vocab"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/internal/infrastructure/metrics"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// highConfidenceFloor is the fused confidence above which a match is
// treated as strong evidence against recent rejections.
const highConfidenceFloor = 0.85

// Result is the outcome of scanning one document.
type Result struct {
	DocumentID string
	// Explicit entities registered from declarations in this scan.
	Explicit []*registry.Entity
	// Matches are the surviving entity groups, strongest first.
	Matches []confidence.EntityMatch
	// Promoted lists spans auto-registered by the promoter during this scan.
	Promoted []string
	// EntityCount is the registry size after the scan.
	EntityCount int
	// Stats summarizes the funnel.
	Stats Stats
}

// Stats counts the funnel tiers of one scan.
type Stats struct {
	TokensFiltered    int
	Candidates        int
	RejectedByCache   int
	ScoredCandidates  int
	AcceptedMatches   int
	DurationMs        float64
	RejectionHitRate  float64
	IndexRebuilt      bool
}

// Orchestrator wires the pipeline stages together. Scans of the same
// document id must be serialized by the caller; scans of different
// documents may interleave only if the host wraps the registry behind a
// single owner.
type Orchestrator struct {
	reg        *registry.Registry
	index      *vocab.Index
	generator  *candidate.Generator
	scorer     *relevance.Scorer
	fusion     *confidence.Fusion
	bulk       *matcher.Matcher
	analyzer   lingua.Analyzer
	promoter   *Promoter
	popularity confidence.PopularityStore
	events     EventSink

	caches       map[string]*rejection.Cache
	cacheMaxSize int
	entityEpoch  int // registry size at last index build

	logger  logging.Logger
	metrics metrics.EngineMetrics
}

// Options carries the orchestrator's collaborators. Registry and Analyzer
// are required; everything else has a working default or may be nil.
type Options struct {
	Registry   *registry.Registry
	Analyzer   lingua.Analyzer
	Matcher    *matcher.Matcher
	Popularity confidence.PopularityStore
	Events     EventSink
	Logger     logging.Logger
	Metrics    metrics.EngineMetrics

	ConfidenceThreshold  float64
	RejectionCacheSize   int
}

// NewOrchestrator builds the pipeline and its derived indices from the
// registry's current state.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, errors.InvalidParam("registry is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.InvalidParam("analyzer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	em := opts.Metrics
	if em == nil {
		em = metrics.NewNoopEngineMetrics()
	}

	var fusionOpts []confidence.Option
	if opts.ConfidenceThreshold > 0 {
		fusionOpts = append(fusionOpts, confidence.WithThreshold(opts.ConfidenceThreshold))
	}

	index := vocab.NewIndex(logger)
	o := &Orchestrator{
		reg:          opts.Registry,
		index:        index,
		generator:    candidate.NewGenerator(index, logger),
		scorer:       relevance.NewScorer(logger),
		fusion:       confidence.NewFusion(opts.Registry, opts.Popularity, logger, fusionOpts...),
		bulk:         opts.Matcher,
		analyzer:     opts.Analyzer,
		popularity:   opts.Popularity,
		events:       opts.Events,
		caches:       make(map[string]*rejection.Cache),
		cacheMaxSize: opts.RejectionCacheSize,
		logger:       logger.Named("scan"),
		metrics:      em,
	}
	o.promoter = NewPromoter(opts.Registry, logger, em)
	o.rebuildIndices()
	return o, nil
}

// rebuildIndices rebuilds the vocabulary index and scoring corpus from the
// registry. Called whenever the entity set changes.
func (o *Orchestrator) rebuildIndices() {
	entities := o.reg.All()
	o.index.Rebuild(entities)
	o.scorer.BuildCorpus(entities)
	o.entityEpoch = len(entities)
}

// ScanDocument runs the full tiered pipeline over one document.
func (o *Orchestrator) ScanDocument(ctx context.Context, doc Document) (*Result, error) {
	if doc.ID == "" {
		return nil, errors.New(errors.CodeDocumentInvalid, "document id is required")
	}
	started := time.Now()

	result := &Result{DocumentID: doc.ID}

	// (1) Explicit declarations register first so this scan can match them.
	declared := o.registerDeclarations(doc, result)

	// (2) Flatten to plain text; block starts are segment boundaries.
	text, boundaries := doc.Flatten()

	// Derived indices follow the entity set.
	rebuilt := false
	if declared || o.reg.Count() != o.entityEpoch {
		o.rebuildIndices()
		rebuilt = true
	}

	sentences := o.analyzer.Sentences(text)
	contextFor := sentenceContext(text, sentences)

	// (3) Tier 1: vocabulary filter.
	tokens := o.index.FilterTokens(text)
	result.Stats.TokensFiltered = len(tokens)
	o.metrics.RecordTier(ctx, "vocabulary", len(vocab.Tokenize(text)), len(tokens))

	// (4) Tier 2: candidate generation.
	candidates := o.generator.Generate(text, tokens, contextFor)
	result.Stats.Candidates = len(candidates)
	o.metrics.RecordTier(ctx, "candidates", len(tokens), len(candidates))
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Start < candidates[j].Start })

	// (5) Tier 2.5: rejection cache, advancing segments as spans cross
	// block boundaries.
	cache := o.cacheFor(doc.ID)
	var survivors []candidate.Candidate
	nextBoundary := 0
	for _, cand := range candidates {
		for nextBoundary < len(boundaries) && cand.Start >= boundaries[nextBoundary] {
			cache.OnSegmentBoundary()
			nextBoundary++
		}
		hit := cache.ShouldReject(cand.Normalized, cand.Context)
		o.metrics.RecordRejectionCacheAccess(ctx, hit)
		if hit {
			result.Stats.RejectedByCache++
			continue
		}
		survivors = append(survivors, cand)
	}
	o.metrics.RecordTier(ctx, "rejection", len(candidates), len(survivors))

	// (6,7) Tiers 3 and 4: score each survivor against its pre-filtered
	// entities, fuse, and threshold.
	var accepted []confidence.ScoredCandidate
	var failed []candidate.Candidate
	for _, cand := range survivors {
		best, ok := o.scoreCandidate(ctx, cand)
		if !ok {
			failed = append(failed, cand)
			continue
		}
		result.Stats.ScoredCandidates++
		if !o.fusion.Accept(best.Confidence) {
			failed = append(failed, cand)
			continue
		}
		accepted = append(accepted, best)
		if best.Confidence >= highConfidenceFloor {
			cache.OnHighConfidenceEntity()
		}
	}
	o.metrics.RecordTier(ctx, "confidence", len(survivors), len(accepted))

	// (8) Tier 5: remember the failures, and let the promoter watch
	// proper-noun spans that resolve to nothing.
	for _, cand := range failed {
		reason := rejection.ReasonBelowThreshold
		if len(cand.EntityIDs) == 0 {
			reason = rejection.ReasonNoEntityMatch
		}
		cache.AddRejection(cand.Normalized, reason, cand.Context)
	}
	promotedAny := o.observeUnknownSpans(ctx, text, doc.ID, result)
	if promotedAny {
		o.rebuildIndices()
		rebuilt = true
		o.publish(ctx, Event{
			Type:       EventEntityPromoted,
			DocumentID: doc.ID,
			Payload:    map[string]interface{}{"spans": result.Promoted},
			At:         time.Now().UTC(),
		})
	}

	// (9) Mention counts and popularity confirmations for every match.
	result.Matches = o.fusion.Group(accepted)
	for _, match := range result.Matches {
		for range match.Positions {
			if err := o.reg.RecordMention(match.Entity.ID, doc.ID); err != nil {
				o.logger.Warn("mention update failed",
					logging.String("entity", string(match.Entity.ID)), logging.Err(err))
			}
		}
		if o.popularity != nil {
			if err := o.popularity.RecordConfirmation(ctx, match.Entity.ID); err != nil {
				o.logger.Warn("popularity update failed",
					logging.String("entity", string(match.Entity.ID)), logging.Err(err))
			}
		}
	}

	// (10) Final result and bookkeeping.
	result.EntityCount = o.reg.Count()
	result.Stats.AcceptedMatches = len(result.Matches)
	result.Stats.DurationMs = float64(time.Since(started).Milliseconds())
	result.Stats.RejectionHitRate = cache.Stats().HitRate()
	result.Stats.IndexRebuilt = rebuilt

	o.metrics.RecordScan(ctx, &metrics.ScanMetricParams{
		DocumentID:      doc.ID,
		DurationMs:      result.Stats.DurationMs,
		TokensFiltered:  result.Stats.TokensFiltered,
		Candidates:      result.Stats.Candidates,
		MatchedEntities: len(result.Matches),
		Success:         true,
	})
	o.publish(ctx, Event{
		Type:       EventScanCompleted,
		DocumentID: doc.ID,
		Payload: map[string]interface{}{
			"matches":    len(result.Matches),
			"candidates": result.Stats.Candidates,
		},
		At: time.Now().UTC(),
	})

	o.logger.Info("document scanned",
		logging.String("document", doc.ID),
		logging.Int("tokens", result.Stats.TokensFiltered),
		logging.Int("candidates", result.Stats.Candidates),
		logging.Int("matches", len(result.Matches)))
	return result, nil
}

// BulkMentions is the fast path: it ships the document's sentences and the
// full entity set to the parallel matcher and returns raw mentions without
// running the tiered pipeline.
func (o *Orchestrator) BulkMentions(ctx context.Context, doc Document) ([]matcher.Mention, error) {
	if o.bulk == nil {
		return nil, errors.New(errors.CodeMatcherClosed, "no parallel matcher configured")
	}
	text, _ := doc.Flatten()
	sentences := o.analyzer.Sentences(text)

	req := matcher.Request{
		DocumentID: doc.ID,
		Sentences:  make([]matcher.Sentence, len(sentences)),
		Entities:   o.entityDescriptors(),
	}
	for i, s := range sentences {
		req.Sentences[i] = matcher.Sentence{Text: s.Text, Start: s.Start, End: s.End, Index: s.Index}
	}
	resp := o.bulk.Match(ctx, req)
	return resp.Mentions, nil
}

// Promoter exposes the promotion state machine.
func (o *Orchestrator) Promoter() *Promoter {
	return o.promoter
}

// RebuildIndices forces a rebuild of the vocabulary index and scoring
// corpus, for hosts that mutate the registry out of band.
func (o *Orchestrator) RebuildIndices() {
	o.rebuildIndices()
}

// OnDocumentDeleted drops the document's rejection cache and strips its
// evidence from the registry.
func (o *Orchestrator) OnDocumentDeleted(documentID string) {
	delete(o.caches, documentID)
	o.reg.OnSourceDeleted(documentID)
}

func (o *Orchestrator) registerDeclarations(doc Document, result *Result) bool {
	declared := false
	for _, block := range doc.Blocks {
		for _, d := range ParseDeclarations(block.Text) {
			e, err := o.reg.Register(d.Label, d.Kind, doc.ID, &registry.RegisterOptions{Aliases: d.Aliases})
			if err != nil {
				o.logger.Warn("declaration rejected",
					logging.String("label", d.Label), logging.Err(err))
				continue
			}
			declared = true
			result.Explicit = append(result.Explicit, e)
		}
	}
	return declared
}

func (o *Orchestrator) scoreCandidate(ctx context.Context, cand candidate.Candidate) (confidence.ScoredCandidate, bool) {
	best := confidence.ScoredCandidate{Candidate: cand}
	found := false
	for _, id := range cand.EntityIDs {
		entity := o.reg.Get(id)
		if entity == nil {
			continue
		}
		rel := o.scorer.ScoreNormalized(cand.Normalized, id)
		conf := o.fusion.Fuse(ctx, cand, entity, rel)
		if !found || conf > best.Confidence {
			best.Entity = entity
			best.Relevance = rel
			best.Confidence = conf
			found = true
		}
	}
	return best, found
}

// observeUnknownSpans collects runs of adjacent proper-noun tokens that
// resolve to no registered entity and feeds them to the promoter. Returns
// true when any observation caused a promotion.
func (o *Orchestrator) observeUnknownSpans(ctx context.Context, text, documentID string, result *Result) bool {
	promoted := false
	var run []lingua.TaggedToken
	flush := func() {
		if len(run) == 0 {
			return
		}
		span := strings.TrimFunc(text[run[0].Start:run[len(run)-1].End], func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		run = run[:0]
		if span == "" || o.reg.Find(span) != nil {
			return
		}
		if o.promoter.Observe(ctx, span, documentID) {
			promoted = true
			result.Promoted = append(result.Promoted, span)
		}
	}

	for _, tok := range o.analyzer.Tokens(text) {
		if tok.Tag == lingua.TagProperNoun {
			run = append(run, tok)
			continue
		}
		flush()
	}
	flush()
	return promoted
}

func (o *Orchestrator) cacheFor(documentID string) *rejection.Cache {
	c, ok := o.caches[documentID]
	if !ok {
		c = rejection.New(o.cacheMaxSize, o.logger)
		o.caches[documentID] = c
	}
	return c
}

func (o *Orchestrator) entityDescriptors() []matcher.EntityDescriptor {
	entities := o.reg.All()
	out := make([]matcher.EntityDescriptor, len(entities))
	for i, e := range entities {
		out[i] = matcher.EntityDescriptor{
			ID:      e.ID,
			Label:   e.Label,
			Aliases: append([]string{}, e.Aliases...),
			Kind:    e.Kind,
		}
	}
	return out
}

func (o *Orchestrator) publish(ctx context.Context, event Event) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Warn("event publish failed",
			logging.String("type", event.Type), logging.Err(err))
	}
}

// sentenceContext returns a ContextFunc that yields the text of the
// sentence containing the span, or a small window around it when no
// sentence covers it.
func sentenceContext(text string, sentences []lingua.Sentence) candidate.ContextFunc {
	return func(start, end int) string {
		for _, s := range sentences {
			if start >= s.Start && start < s.End {
				return s.Text
			}
		}
		lo := start - 40
		if lo < 0 {
			lo = 0
		}
		hi := end + 40
		if hi > len(text) {
			hi = len(text)
		}
		return text[lo:hi]
	}
}
