package matcher

import (
	"context"
	"time"

	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/internal/infrastructure/metrics"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// DefaultTimeout bounds how long a caller waits for the worker before
// falling back to the sequential scan.
const DefaultTimeout = 5 * time.Second

// Sentence is one sentence of the document, with offsets into the flattened
// text.
type Sentence struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Index int    `json:"index"`
}

// Request asks the worker to find every entity mention across the
// sentences. Entities travel by value: the worker shares no memory with the
// caller and keeps its own automaton.
type Request struct {
	DocumentID  string             `json:"documentId"`
	Sentences   []Sentence         `json:"sentences"`
	Entities    []EntityDescriptor `json:"entities"`
	RebuildTrie bool               `json:"rebuildTrie,omitempty"`
}

// Stats describes one completed matching run.
type Stats struct {
	EntitiesChecked  int     `json:"entitiesChecked"`
	MentionsFound    int     `json:"mentionsFound"`
	ProcessingTimeMs float64 `json:"processingTimeMs"`
	TrieRebuilt      bool    `json:"trieRebuilt"`
	Fallback         bool    `json:"fallback"`
}

// Response carries the mentions found for one request.
type Response struct {
	DocumentID string    `json:"documentId"`
	Mentions   []Mention `json:"mentions"`
	Stats      Stats     `json:"stats"`
}

type envelope struct {
	req   Request
	reply chan Response
}

// Matcher dispatches matching requests to a dedicated worker goroutine and
// awaits responses under a fixed timeout. On timeout or a closed worker it
// transparently falls back to the sequential scan; the caller always gets a
// usable mention list.
type Matcher struct {
	requests chan envelope
	done     chan struct{}
	timeout  time.Duration
	logger   logging.Logger
	metrics  metrics.EngineMetrics
}

// MatcherOption customizes Matcher construction.
type MatcherOption func(*Matcher)

// WithTimeout overrides the worker await timeout.
func WithTimeout(d time.Duration) MatcherOption {
	return func(m *Matcher) { m.timeout = d }
}

// NewMatcher starts the worker goroutine. Nil logger/metrics fall back to
// nop implementations.
func NewMatcher(logger logging.Logger, em metrics.EngineMetrics, opts ...MatcherOption) *Matcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if em == nil {
		em = metrics.NewNoopEngineMetrics()
	}
	m := &Matcher{
		requests: make(chan envelope),
		done:     make(chan struct{}),
		timeout:  DefaultTimeout,
		logger:   logger.Named("matcher"),
		metrics:  em,
	}
	for _, o := range opts {
		o(m)
	}
	go m.run()
	return m
}

// Close stops the worker. In-flight work finishes; later Match calls use
// the sequential fallback.
func (m *Matcher) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// Match finds every entity mention in the request's sentences. The worker
// round-trip is raced against the timeout and the caller's context; on
// either expiring, the sequential fallback produces an equivalent result
// and any late worker response is discarded.
func (m *Matcher) Match(ctx context.Context, req Request) Response {
	started := time.Now()

	reply := make(chan Response, 1) // buffered so a late worker send never blocks
	env := envelope{req: req, reply: reply}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case m.requests <- env:
	case <-m.done:
		return m.fallbackResponse(ctx, req, started, false)
	case <-timer.C:
		return m.fallbackResponse(ctx, req, started, true)
	case <-ctx.Done():
		return m.fallbackResponse(ctx, req, started, false)
	}

	select {
	case resp := <-reply:
		if resp.DocumentID != req.DocumentID {
			// Stale response from an abandoned earlier request.
			m.logger.Warn("stale worker response discarded",
				logging.String("expected", req.DocumentID),
				logging.String("got", resp.DocumentID))
			return m.fallbackResponse(ctx, req, started, false)
		}
		m.metrics.RecordMatcherSearch(ctx, &metrics.MatcherMetricParams{
			DurationMs:    float64(time.Since(started).Milliseconds()),
			Sentences:     len(req.Sentences),
			MentionsFound: len(resp.Mentions),
		})
		return resp
	case <-m.done:
		return m.fallbackResponse(ctx, req, started, false)
	case <-timer.C:
		return m.fallbackResponse(ctx, req, started, true)
	case <-ctx.Done():
		return m.fallbackResponse(ctx, req, started, false)
	}
}

// run is the worker loop. The automaton lives here and only here; it is
// rebuilt when the entity count changes or the request demands it.
func (m *Matcher) run() {
	var automaton *Automaton
	var builtFor int

	for {
		select {
		case <-m.done:
			return
		case env := <-m.requests:
			started := time.Now()
			rebuilt := false
			if automaton == nil || env.req.RebuildTrie || builtFor != len(env.req.Entities) {
				buildStart := time.Now()
				automaton = BuildAutomaton(env.req.Entities)
				builtFor = len(env.req.Entities)
				rebuilt = true
				m.metrics.RecordAutomatonRebuild(context.Background(),
					automaton.PatternCount(),
					float64(time.Since(buildStart).Milliseconds()))
				m.logger.Debug("automaton rebuilt",
					logging.Int("patterns", automaton.PatternCount()))
			}

			var mentions []Mention
			for _, sentence := range env.req.Sentences {
				for _, mention := range automaton.Search(sentence.Text) {
					mention.Position += sentence.Start
					mention.SentenceIndex = sentence.Index
					mentions = append(mentions, mention)
				}
			}

			env.reply <- Response{
				DocumentID: env.req.DocumentID,
				Mentions:   mentions,
				Stats: Stats{
					EntitiesChecked:  len(env.req.Entities),
					MentionsFound:    len(mentions),
					ProcessingTimeMs: float64(time.Since(started).Milliseconds()),
					TrieRebuilt:      rebuilt,
				},
			}
		}
	}
}

// fallbackResponse runs the sequential matcher and reports the degradation
// through logs and metrics. The failure is absorbed here, never surfaced.
func (m *Matcher) fallbackResponse(ctx context.Context, req Request, started time.Time, timedOut bool) Response {
	if timedOut {
		m.logger.Warn("worker timed out, using sequential fallback",
			logging.String("document", req.DocumentID),
			logging.Err(errors.New(errors.CodeMatcherTimeout, "matcher worker timeout")))
	} else {
		m.logger.Debug("using sequential fallback",
			logging.String("document", req.DocumentID))
	}

	mentions := SequentialSearch(req.Sentences, req.Entities)
	m.metrics.RecordMatcherSearch(ctx, &metrics.MatcherMetricParams{
		DurationMs:    float64(time.Since(started).Milliseconds()),
		Sentences:     len(req.Sentences),
		MentionsFound: len(mentions),
		Fallback:      true,
		TimedOut:      timedOut,
	})
	return Response{
		DocumentID: req.DocumentID,
		Mentions:   mentions,
		Stats: Stats{
			EntitiesChecked:  len(req.Entities),
			MentionsFound:    len(mentions),
			ProcessingTimeMs: float64(time.Since(started).Milliseconds()),
			Fallback:         true,
		},
	}
}
