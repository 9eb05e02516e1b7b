package ocr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/observability"
	"github.com/wudi/pdfstudio/render"
)

const (
	DefaultWorkers = 2
	MaxWorkers     = 4
	DefaultDPI     = 300
)

// Recognizer runs an Engine over the pages of a document.
type Recognizer struct {
	Engine     Engine
	Rasterizer render.Renderer
	// Workers bounds how many pages are rasterized and recognized at once.
	Workers int
	DPI     int
	Logger  observability.Logger
	Metrics *observability.Metrics
}

// NewRecognizer returns a Recognizer with the built-in rasterizer and the
// default pool size.
func NewRecognizer(engine Engine, logger observability.Logger) *Recognizer {
	logger = observability.OrNop(logger)
	return &Recognizer{
		Engine:     engine,
		Rasterizer: render.NewRasterizer(logger),
		Workers:    DefaultWorkers,
		DPI:        DefaultDPI,
		Logger:     logger,
	}
}

// Options selects what a Run recognizes.
type Options struct {
	// Language is a code from Languages; empty means DefaultLanguage.
	Language string
	// Preprocess is applied to every raster when set.
	Preprocess *Preprocess
	// Pages lists 1-based page numbers. Empty means every page.
	Pages []int
	// Input is applied to every Input before recognition.
	Input []InputOption
}

// PageResult is the outcome for one page. Err is set when the page failed;
// the other pages of the run are unaffected.
type PageResult struct {
	PageNumber int
	PageID     string
	Text       string
	Confidence float64
	Language   string
	Err        error
	Result     Result
}

func (r PageResult) Failed() bool { return r.Err != nil }

func (r *Recognizer) workers() int {
	switch {
	case r.Workers <= 0:
		return DefaultWorkers
	case r.Workers > MaxWorkers:
		return MaxWorkers
	}
	return r.Workers
}

func (r *Recognizer) dpi() int {
	if r.DPI <= 0 {
		return DefaultDPI
	}
	return r.DPI
}

// Start validates opts and begins recognition in the background. onProgress
// may be nil; it is always called from a single goroutine, and page reports
// arrive in page order.
func (r *Recognizer) Start(ctx context.Context, doc *document.Document, opts Options, onProgress func(Progress)) (*Run, error) {
	if r.Engine == nil {
		return nil, ErrNoEngine
	}
	if r.Rasterizer == nil {
		return nil, document.ErrNoRenderer
	}
	lang, err := ValidateLanguage(opts.Language)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.PageCount() == 0 {
		return nil, document.ErrEmptyDocument
	}
	targets, err := targetPages(doc, opts.Pages)
	if err != nil {
		return nil, err
	}
	opts.Language = lang

	ctx, cancel := context.WithCancel(ctx)
	run := &Run{
		state:    JobStateIdle,
		total:    len(targets),
		cancel:   cancel,
		done:     make(chan struct{}),
		callback: onProgress,
	}
	job := &pass{
		rec:     r,
		run:     run,
		targets: targets,
		opts:    opts,
		logger:  observability.OrNop(r.Logger).With(observability.String("language", lang)),
	}
	go job.loop(ctx)
	return run, nil
}

func targetPages(doc *document.Document, numbers []int) ([]*document.Page, error) {
	if len(numbers) == 0 {
		return slices.Clone(doc.Pages), nil
	}
	seen := make(map[int]bool, len(numbers))
	var out []*document.Page
	for _, n := range numbers {
		if n < 1 || n > doc.PageCount() {
			return nil, fmt.Errorf("%w: %d of %d", ErrInvalidPage, n, doc.PageCount())
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, doc.Pages[n-1])
		}
	}
	slices.SortFunc(out, func(a, b *document.Page) int { return a.Number - b.Number })
	return out, nil
}

// Run is one recognition pass over a document.
type Run struct {
	mu      sync.Mutex
	state   JobState
	results []PageResult
	err     error

	total  int
	cancel context.CancelFunc
	done   chan struct{}

	callback  func(Progress)
	gate      sync.Mutex
	canceled  atomic.Bool
	inCallout atomic.Bool
}

func (r *Run) State() JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel stops dispatch and aborts pages in flight. It may be called any
// number of times, from any goroutine, including from the progress callback.
// No progress callback starts after Cancel returns.
func (r *Run) Cancel() {
	r.canceled.Store(true)
	r.cancel()
	r.mu.Lock()
	if !r.state.Terminal() {
		r.state = JobStateCanceled
	}
	r.mu.Unlock()
	if r.inCallout.Load() {
		return
	}
	// Wait out a delivery that passed its check before the flag was set.
	r.gate.Lock()
	r.gate.Unlock()
}

// Results returns the pages finished so far in page order.
func (r *Run) Results() []PageResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.results)
	slices.SortFunc(out, func(a, b PageResult) int { return a.PageNumber - b.PageNumber })
	return out
}

// Wait blocks until the run ends or ctx is done. A canceled run returns
// the pages finished before cancellation together with ErrCanceled.
func (r *Run) Wait(ctx context.Context) ([]PageResult, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return r.Results(), ctx.Err()
	}
	r.mu.Lock()
	state, err := r.state, r.err
	r.mu.Unlock()
	if state == JobStateCanceled {
		return r.Results(), ErrCanceled
	}
	return r.Results(), err
}

func (r *Run) emit(p Progress) {
	if r.callback == nil {
		return
	}
	r.gate.Lock()
	defer r.gate.Unlock()
	if r.canceled.Load() {
		return
	}
	r.inCallout.Store(true)
	defer r.inCallout.Store(false)
	r.callback(p)
}

func (r *Run) record(res PageResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// finish moves the run to state unless Cancel got there first.
func (r *Run) finish(state JobState, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != JobStateCanceled {
		r.state, r.err = state, err
	}
}

// pass holds what the goroutines of one Run share.
type pass struct {
	rec     *Recognizer
	run     *Run
	targets []*document.Page
	opts    Options
	logger  observability.Logger
}

type completion struct {
	index   int
	result  PageResult
	aborted bool
}

func (p *pass) loop(ctx context.Context) {
	run := p.run
	defer close(run.done)
	defer run.cancel()

	run.mu.Lock()
	if run.state == JobStateIdle {
		run.state = JobStateRunning
	}
	run.mu.Unlock()

	workers, err := p.openWorkers(ctx, p.rec.workers())
	if err != nil {
		if ctx.Err() != nil {
			run.finish(JobStateCanceled, nil)
			return
		}
		err = fmt.Errorf("%w: %w", ErrBackendInit, err)
		p.logger.Error("ocr engine init failed", observability.Error("error", err))
		run.finish(JobStateError, err)
		run.emit(Progress{Status: StatusError, Message: err.Error()})
		return
	}
	defer func() {
		for _, w := range workers {
			if cerr := w.Close(); cerr != nil {
				p.logger.Warn("ocr worker close failed", observability.Error("error", cerr))
			}
		}
	}()
	run.emit(Progress{Status: StatusInitializing, Message: fmt.Sprintf("Loaded %s language data", p.opts.Language)})

	jobs := make(chan int)
	completions := make(chan completion)
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			for i := range jobs {
				c := p.page(ctx, w, i)
				select {
				case completions <- c:
				case <-ctx.Done():
					return
				}
			}
		}(w)
	}
	go func() {
		defer close(jobs)
		for i := range p.targets {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(completions)
	}()

	total := len(p.targets)
	pending := make(map[int]PageResult)
	next := 0
	for c := range completions {
		if c.aborted {
			continue
		}
		run.record(c.result)
		pending[c.index] = c.result
		for {
			res, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			run.emit(Progress{
				Status:   StatusRecognizing,
				Fraction: float64(next) / float64(total),
				Message:  fmt.Sprintf("Processing page %d of %d...", next, total),
				Page:     res.PageNumber,
			})
		}
	}

	if ctx.Err() != nil {
		run.finish(JobStateCanceled, nil)
		p.logger.Info("ocr canceled", observability.Int("finished", len(run.Results())), observability.Int("pages", total))
		return
	}
	run.finish(JobStateDone, nil)
	run.emit(Progress{Status: StatusComplete, Fraction: 1, Message: "OCR complete"})
	p.logger.Info("ocr complete", observability.Int("pages", total))
}

// openWorkers creates n workers up front. On failure the ones already
// created are closed.
func (p *pass) openWorkers(ctx context.Context, n int) ([]Worker, error) {
	we, ok := p.rec.Engine.(WorkerEngine)
	if !ok {
		out := make([]Worker, n)
		for i := range out {
			out[i] = engineWorker{engine: p.rec.Engine}
		}
		return out, nil
	}
	out := make([]Worker, 0, n)
	for range n {
		w, err := we.NewWorker(ctx, p.opts.Language)
		if err != nil {
			for _, w := range out {
				w.Close()
			}
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// page renders, preprocesses and recognizes target i.
func (p *pass) page(ctx context.Context, w Worker, i int) completion {
	pg := p.targets[i]
	start := time.Now()
	res := PageResult{PageNumber: pg.Number, PageID: pg.ID, Language: p.opts.Language}
	out, err := p.recognize(ctx, w, pg)
	if ctx.Err() != nil {
		return completion{index: i, aborted: true}
	}
	p.rec.Metrics.ObserveOCRPage(err)
	if err != nil {
		res.Err = err
		p.logger.Warn("ocr page failed", observability.Int("page", pg.Number), observability.Error("error", err))
	} else {
		res.Result = out
		res.Text = out.PlainText
		res.Confidence = out.MeanConfidence()
		p.logger.Debug("ocr page", observability.Int("page", pg.Number), observability.Duration("elapsed", time.Since(start)))
	}
	return completion{index: i, result: res}
}

func (p *pass) recognize(ctx context.Context, w Worker, pg *document.Page) (Result, error) {
	dpi := p.rec.dpi()
	img, err := p.rec.Rasterizer.Render(ctx, pg.Source, render.Options{Scale: render.DPI(float64(dpi)), Rotation: pg.Rotation})
	if err != nil {
		return Result{}, fmt.Errorf("render page %d: %w", pg.Number, err)
	}
	if p.opts.Preprocess != nil {
		img = p.opts.Preprocess.Apply(img)
	}
	opts := append([]InputOption{WithLanguages(p.opts.Language), WithDPI(dpi)}, p.opts.Input...)
	in, err := NewInput(pg.ID, pg.Number-1, img, opts...)
	if err != nil {
		return Result{}, err
	}
	return w.Recognize(ctx, in)
}

// engineWorker adapts a plain Engine to Worker.
type engineWorker struct {
	engine Engine
}

func (w engineWorker) Recognize(ctx context.Context, in Input) (Result, error) {
	return w.engine.Recognize(ctx, in)
}

func (engineWorker) Close() error { return nil }

// RecognizeImages runs engine over standalone images, in one batch when the
// engine supports it.
func RecognizeImages(ctx context.Context, engine Engine, inputs []Input) ([]Result, error) {
	if engine == nil {
		return nil, ErrNoEngine
	}
	if be, ok := engine.(BatchEngine); ok {
		return be.RecognizeBatch(ctx, inputs)
	}
	out := make([]Result, 0, len(inputs))
	for _, in := range inputs {
		res, err := engine.Recognize(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("recognize %s: %w", in.ID, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// IsCanceled reports whether err ended a run through Cancel or its context.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}
