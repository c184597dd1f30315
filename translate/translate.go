// Package translate runs the translation pipeline for one document at a
// time: screen and batch its units, send the batches to the translation
// service with bounded concurrency, decode the replies and splice them back
// into the document tree.
//
// Only gateway calls run concurrently. Batching, decoding and splicing
// happen on the caller's goroutine, and splices are applied in document
// order after all batches have returned.
package translate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minios-linux/doctrans/batch"
	"github.com/minios-linux/doctrans/doctree"
	"github.com/minios-linux/doctrans/gateway"
	"github.com/minios-linux/doctrans/tagcodec"
)

// ---------------------------------------------------------------------------
// Policies and status
// ---------------------------------------------------------------------------

// Policy decides what happens to a unit whose translation cannot be used.
type Policy string

const (
	// PolicyFallback keeps the unit's original text and records a fallback.
	PolicyFallback Policy = "fallback"
	// PolicyAbort fails the whole document.
	PolicyAbort Policy = "abort"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFallback, PolicyAbort:
		return Policy(s), nil
	case "":
		return PolicyFallback, nil
	}
	return "", fmt.Errorf("unknown policy %q (want %s or %s)", s, PolicyFallback, PolicyAbort)
}

// Status is the outcome of a document run.
type Status int

const (
	StatusSuccess Status = iota
	StatusPartial        // some units kept their original text
	StatusFailed         // nothing was spliced
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Fallback records a unit that kept its original text.
type Fallback struct {
	UnitID   int
	Location string
	Reason   error
}

// Report summarizes one document run.
type Report struct {
	RunID    string
	Document string
	Status   Status
	// Units is the number of units in the document, Opaque of which had
	// nothing to translate.
	Units      int
	Opaque     int
	Translated int
	Batches    int
	Fallbacks  []Fallback
	// Err is the first fatal error when Status is StatusFailed.
	Err     error
	Elapsed time.Duration
}

// ---------------------------------------------------------------------------
// Translation options
// ---------------------------------------------------------------------------

// Options controls the pipeline.
type Options struct {
	SourceLang string
	TargetLang string
	Formality  string
	GlossaryID string
	// Context is forwarded with every batch.
	Context string
	// Limits bound each batch. Zero values use batch.DefaultLimits.
	Limits batch.Limits
	// MaxConcurrent is the maximum number of batches in flight. Default: 3.
	MaxConcurrent int
	// RequestDelay is the delay between launching batches.
	RequestDelay time.Duration
	// Policy handles units whose translation cannot be used.
	Policy Policy
	// DryRun encodes, batches and round-trips units without calling the
	// service.
	DryRun bool
	// Logger receives structured diagnostics. Default: discard.
	Logger *zap.Logger
	// OnProgress is called after each batch is translated.
	OnProgress func(doc string, done, total int)
}

func (o *Options) effectiveLimits() batch.Limits {
	l := o.Limits
	if l.MaxBytes == 0 {
		l.MaxBytes = batch.DefaultLimits.MaxBytes
	}
	if l.MaxUnits == 0 {
		l.MaxUnits = batch.DefaultLimits.MaxUnits
	}
	return l
}

func (o *Options) effectiveMaxConcurrent() int {
	if o.MaxConcurrent > 0 {
		return o.MaxConcurrent
	}
	return 3
}

func (o *Options) effectivePolicy() Policy {
	if o.Policy == "" {
		return PolicyFallback
	}
	return o.Policy
}

func (o *Options) request(texts []string) gateway.Request {
	return gateway.Request{
		SourceLang: o.SourceLang,
		TargetLang: o.TargetLang,
		Texts:      texts,
		Formality:  o.Formality,
		GlossaryID: o.GlossaryID,
		Context:    o.Context,
	}
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// Document is anything that can be encoded into translation units whose
// roots live in its own tree.
type Document interface {
	Units() ([]*tagcodec.Unit, error)
}

// Pipeline translates documents through one Translator. A Pipeline may be
// reused for many documents; the translator's rate limit and circuit state
// then carry over between them.
type Pipeline struct {
	tr   gateway.Translator
	opts Options
	log  *zap.Logger
}

// New returns a pipeline.
func New(tr gateway.Translator, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{tr: tr, opts: opts, log: log}
}

// Translate encodes doc and runs its units. The document tree is modified
// in place unless the report status is StatusFailed.
func (p *Pipeline) Translate(ctx context.Context, name string, doc Document) *Report {
	units, err := doc.Units()
	if err != nil {
		return &Report{RunID: uuid.NewString(), Document: name, Status: StatusFailed, Err: fmt.Errorf("encoding %s: %w", name, err)}
	}
	return p.Run(ctx, name, units)
}

// Run translates units and splices the results into their roots.
func (p *Pipeline) Run(ctx context.Context, name string, units []*tagcodec.Unit) *Report {
	start := time.Now()
	rep := &Report{RunID: uuid.NewString(), Document: name, Units: len(units)}
	log := p.log.With(zap.String("run_id", rep.RunID), zap.String("document", name))
	defer func() {
		rep.Elapsed = time.Since(start)
		log.Info("document finished",
			zap.Stringer("status", rep.Status),
			zap.Int("units", rep.Units),
			zap.Int("translated", rep.Translated),
			zap.Int("fallbacks", len(rep.Fallbacks)),
			zap.Duration("elapsed", rep.Elapsed),
			zap.Error(rep.Err))
	}()

	lim := p.opts.effectiveLimits()
	if err := lim.Validate(); err != nil {
		return rep.fail(err)
	}

	// Oversized units are a per-unit failure, not a packing failure.
	var sendable []*tagcodec.Unit
	for _, u := range units {
		if u.Opaque {
			rep.Opaque++
			continue
		}
		if err := lim.Check(u); err != nil {
			if fatal := p.unitFailed(rep, u, err); fatal != nil {
				return rep.fail(fatal)
			}
			continue
		}
		sendable = append(sendable, u)
	}

	batches, err := batch.Pack(sendable, lim)
	if err != nil {
		return rep.fail(err)
	}
	rep.Batches = len(batches)
	log.Debug("document batched",
		zap.Int("units", len(units)),
		zap.Int("sendable", len(sendable)),
		zap.Int("batches", len(batches)))

	var results [][]string
	if p.opts.DryRun {
		results = make([][]string, len(batches))
		for i, b := range batches {
			results[i] = b.Texts()
		}
	} else {
		results, err = p.dispatch(ctx, name, batches, len(sendable), log)
		if err != nil {
			return rep.fail(err)
		}
	}

	// Decode everything before splicing anything, so an abort leaves the
	// tree untouched.
	type splice struct {
		unit     *tagcodec.Unit
		children []*doctree.Node
	}
	var splices []splice
	for i, b := range batches {
		for j, u := range b.Units {
			children, err := tagcodec.Decode(u, results[i][j])
			if err != nil {
				log.Warn("unusable translation",
					zap.Int("unit", u.ID),
					zap.String("location", u.Location),
					zap.Error(err))
				if fatal := p.unitFailed(rep, u, err); fatal != nil {
					return rep.fail(fatal)
				}
				continue
			}
			splices = append(splices, splice{unit: u, children: children})
		}
	}
	if !p.opts.DryRun {
		for _, s := range splices {
			s.unit.Splice(s.children)
		}
	}
	rep.Translated = len(splices)

	if len(rep.Fallbacks) > 0 {
		rep.Status = StatusPartial
	}
	return rep
}

// unitFailed applies the policy to a unit failure. It returns the error to
// fail the document with, or nil after recording a fallback.
func (p *Pipeline) unitFailed(rep *Report, u *tagcodec.Unit, err error) error {
	if p.opts.effectivePolicy() == PolicyAbort {
		return fmt.Errorf("%s: %w", u.Location, err)
	}
	rep.Fallbacks = append(rep.Fallbacks, Fallback{UnitID: u.ID, Location: u.Location, Reason: err})
	return nil
}

func (r *Report) fail(err error) *Report {
	r.Status = StatusFailed
	r.Err = err
	r.Translated = 0
	return r
}

// dispatch sends the batches and returns their replies indexed like
// batches. The first fatal error stops further dispatch; batches already in
// flight are allowed to finish.
func (p *Pipeline) dispatch(ctx context.Context, name string, batches []batch.Batch, total int, log *zap.Logger) ([][]string, error) {
	results := make([][]string, len(batches))
	var done int64

	err := runParallelGeneric(ctx, batches, p.opts.effectiveMaxConcurrent(), p.opts.RequestDelay, func(ctx context.Context, b batch.Batch) error {
		out, err := p.tr.Translate(ctx, p.opts.request(b.Texts()))
		if err != nil {
			return fmt.Errorf("batch %d (%d units): %w", b.Seq+1, len(b.Units), err)
		}
		if err := gateway.CheckResponse(p.opts.request(b.Texts()), out); err != nil {
			return fmt.Errorf("batch %d: %w", b.Seq+1, err)
		}
		results[b.Seq] = out

		newDone := atomic.AddInt64(&done, int64(len(b.Units)))
		log.Debug("batch translated", zap.Int("batch", b.Seq+1), zap.Int("units", len(b.Units)))
		if p.opts.OnProgress != nil {
			p.opts.OnProgress(name, int(newDone), total)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// Generic parallel runner
// ---------------------------------------------------------------------------

// runParallelGeneric runs typed tasks in parallel with a concurrency limit
// and a delay between launches. After the first error no further task is
// started; running tasks finish before it returns.
func runParallelGeneric[T any](ctx context.Context, tasks []T, maxConcurrent int, delay time.Duration, fn func(context.Context, T) error) error {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once
	var stopped atomic.Bool

launch:
	for i, task := range tasks {
		if ctx.Err() != nil || stopped.Load() {
			break
		}

		// Delay between launching tasks (skip first)
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				break launch
			case <-time.After(delay):
			}
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break launch
		}
		if stopped.Load() {
			<-sem
			break
		}
		wg.Add(1)

		go func(t T) {
			defer func() {
				<-sem
				wg.Done()
			}()

			if err := fn(ctx, t); err != nil {
				errOnce.Do(func() {
					firstErr = err
				})
				stopped.Store(true)
			}
		}(task)
	}

	wg.Wait()
	if firstErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return firstErr
}

// IsFatal reports whether err ends a whole run rather than one document.
// The service rejected the request or the quota is gone, and every later
// document would fail the same way.
func IsFatal(err error) bool {
	return errors.Is(err, gateway.ErrQuotaExceeded) ||
		errors.Is(err, gateway.ErrInvalidRequest) ||
		errors.Is(err, context.Canceled)
}
