package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/pdfstudio/document"
	"github.com/wudi/pdfstudio/internal/pdftest"
	"github.com/wudi/pdfstudio/pages"
	"github.com/wudi/pdfstudio/render"
)

type blankRenderer struct{}

func (blankRenderer) Render(ctx context.Context, _ *pages.Source, _ render.Options) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img, nil
}

// fakeEngine answers "text N" for page N. delay and fail are keyed by the
// zero-based page index.
type fakeEngine struct {
	delay map[int]time.Duration
	fail  map[int]error

	inflight atomic.Int32
	peak     atomic.Int32
	langs    sync.Map
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	n := e.inflight.Add(1)
	defer e.inflight.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if len(in.Languages) > 0 {
		e.langs.Store(in.Languages[0], true)
	}
	if d := e.delay[in.PageIndex]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if err := e.fail[in.PageIndex]; err != nil {
		return Result{}, err
	}
	return Result{
		InputID:   in.ID,
		PlainText: fmt.Sprintf("text %d", in.PageIndex+1),
		Blocks:    []TextBlock{{Confidence: 0.8}, {Confidence: 0.6}},
	}, nil
}

// workerEngine hands out workers through newWorker.
type workerEngine struct {
	fakeEngine
	newWorker func(ctx context.Context) error
	opened    atomic.Int32
	closed    atomic.Int32
}

type fakeWorker struct{ e *workerEngine }

func (w fakeWorker) Recognize(ctx context.Context, in Input) (Result, error) {
	return w.e.fakeEngine.Recognize(ctx, in)
}

func (w fakeWorker) Close() error {
	w.e.closed.Add(1)
	return nil
}

func (e *workerEngine) NewWorker(ctx context.Context, _ string) (Worker, error) {
	if e.newWorker != nil {
		if err := e.newWorker(ctx); err != nil {
			return nil, err
		}
	}
	e.opened.Add(1)
	return fakeWorker{e: e}, nil
}

func loadDoc(t *testing.T, n int) *document.Document {
	t.Helper()
	doc, err := document.NewLoader().Load(context.Background(), pdftest.Bytes(t, n))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return doc
}

func newRecognizer(engine Engine, workers int) *Recognizer {
	return &Recognizer{Engine: engine, Rasterizer: blankRenderer{}, Workers: workers}
}

// recorder collects progress reports.
type recorder struct {
	mu  sync.Mutex
	all []Progress
}

func (r *recorder) add(p Progress) {
	r.mu.Lock()
	r.all = append(r.all, p)
	r.mu.Unlock()
}

func (r *recorder) reports() []Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Progress(nil), r.all...)
}

func (r *recorder) pages() []int {
	var out []int
	for _, p := range r.reports() {
		if p.Status == StatusRecognizing {
			out = append(out, p.Page)
		}
	}
	return out
}

func wait(t *testing.T, run *Run) ([]PageResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run did not finish")
	}
	return res, err
}

func TestProgressIsOrdered(t *testing.T) {
	engine := &fakeEngine{delay: map[int]time.Duration{0: 60 * time.Millisecond, 2: 20 * time.Millisecond}}
	var rec recorder
	run, err := newRecognizer(engine, 3).Start(context.Background(), loadDoc(t, 5), Options{Language: "deu"}, rec.add)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	results, err := wait(t, run)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := rec.pages(); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Fatalf("progress pages = %v", got)
	}
	reports := rec.reports()
	if reports[0].Status != StatusInitializing {
		t.Fatalf("first report = %+v", reports[0])
	}
	last := reports[len(reports)-1]
	if last.Status != StatusComplete || last.Fraction != 1 {
		t.Fatalf("last report = %+v", last)
	}
	var prev float64
	for _, p := range reports {
		if p.Fraction < prev {
			t.Fatalf("fraction went backwards: %+v", reports)
		}
		prev = p.Fraction
	}
	if reports[1].Message != "Processing page 1 of 5..." {
		t.Fatalf("message = %q", reports[1].Message)
	}
	if run.State() != JobStateDone {
		t.Fatalf("state = %s", run.State())
	}
	if len(results) != 5 {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.PageNumber != i+1 || r.Text != fmt.Sprintf("text %d", i+1) || r.Language != "deu" {
			t.Fatalf("result %d = %+v", i, r)
		}
		if r.Confidence < 0.69 || r.Confidence > 0.71 {
			t.Fatalf("confidence = %v", r.Confidence)
		}
	}
	if _, ok := engine.langs.Load("deu"); !ok {
		t.Fatalf("engine did not receive the language")
	}
}

func TestWorkersBoundConcurrency(t *testing.T) {
	delay := make(map[int]time.Duration)
	for i := range 8 {
		delay[i] = 15 * time.Millisecond
	}
	engine := &fakeEngine{delay: delay}
	run, err := newRecognizer(engine, 2).Start(context.Background(), loadDoc(t, 8), Options{}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := wait(t, run); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if peak := engine.peak.Load(); peak > 2 || peak < 1 {
		t.Fatalf("peak concurrency = %d", peak)
	}
}

func TestWorkerCount(t *testing.T) {
	cases := []struct{ in, want int }{{0, DefaultWorkers}, {-1, DefaultWorkers}, {3, 3}, {9, MaxWorkers}}
	for _, tc := range cases {
		if got := (&Recognizer{Workers: tc.in}).workers(); got != tc.want {
			t.Fatalf("workers(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestPageFailureDoesNotStopBatch(t *testing.T) {
	boom := errors.New("bad page")
	engine := &fakeEngine{fail: map[int]error{1: boom}}
	run, err := newRecognizer(engine, 2).Start(context.Background(), loadDoc(t, 3), Options{}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	results, err := wait(t, run)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if run.State() != JobStateDone {
		t.Fatalf("state = %s", run.State())
	}
	if !errors.Is(results[1].Err, boom) || results[0].Failed() || results[2].Failed() {
		t.Fatalf("results = %+v", results)
	}
	want := "=== Page 1 ===\ntext 1\n\n=== Page 3 ===\ntext 3"
	if got := CombineResults(results); got != want {
		t.Fatalf("combined = %q", got)
	}
}

func TestCancelRightAfterStart(t *testing.T) {
	engine := &workerEngine{newWorker: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	var calls atomic.Int32
	run, err := newRecognizer(engine, 2).Start(context.Background(), loadDoc(t, 4), Options{}, func(Progress) { calls.Add(1) })
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	run.Cancel()
	results, err := wait(t, run)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("wait err = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %v", results)
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("callbacks after cancel = %d", n)
	}
	if run.State() != JobStateCanceled {
		t.Fatalf("state = %s", run.State())
	}
	run.Cancel()
}

func TestCancelFromCallback(t *testing.T) {
	delay := map[int]time.Duration{}
	for i := 1; i < 6; i++ {
		delay[i] = 200 * time.Millisecond
	}
	engine := &workerEngine{fakeEngine: fakeEngine{delay: delay}}
	var rec recorder
	var run *Run
	var ready sync.WaitGroup
	ready.Add(1)
	run, err := newRecognizer(engine, 2).Start(context.Background(), loadDoc(t, 6), Options{}, func(p Progress) {
		ready.Wait()
		rec.add(p)
		if p.Status == StatusRecognizing {
			run.Cancel()
		}
	})
	ready.Done()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	results, err := wait(t, run)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("wait err = %v", err)
	}
	if got := rec.pages(); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("pages reported = %v", got)
	}
	if len(rec.reports()) != 2 {
		t.Fatalf("reports = %+v", rec.reports())
	}
	if len(results) == 0 || results[0].PageNumber != 1 {
		t.Fatalf("results = %+v", results)
	}
	if engine.closed.Load() != engine.opened.Load() {
		t.Fatalf("opened %d workers, closed %d", engine.opened.Load(), engine.closed.Load())
	}
}

func TestBackendInitFailure(t *testing.T) {
	boom := errors.New("no traineddata")
	var opened int
	engine := &workerEngine{newWorker: func(context.Context) error {
		opened++
		if opened == 2 {
			return boom
		}
		return nil
	}}
	var rec recorder
	run, err := newRecognizer(engine, 2).Start(context.Background(), loadDoc(t, 2), Options{}, rec.add)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = wait(t, run)
	if !errors.Is(err, ErrBackendInit) || !errors.Is(err, boom) {
		t.Fatalf("wait err = %v", err)
	}
	if run.State() != JobStateError {
		t.Fatalf("state = %s", run.State())
	}
	reports := rec.reports()
	if len(reports) != 1 || reports[0].Status != StatusError {
		t.Fatalf("reports = %+v", reports)
	}
	if engine.closed.Load() != 1 {
		t.Fatalf("closed = %d", engine.closed.Load())
	}
}

func TestStartValidation(t *testing.T) {
	doc := loadDoc(t, 3)
	r := newRecognizer(&fakeEngine{}, 1)
	if _, err := r.Start(context.Background(), doc, Options{Language: "klingon"}, nil); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("language err = %v", err)
	}
	if _, err := r.Start(context.Background(), doc, Options{Pages: []int{4}}, nil); !errors.Is(err, ErrInvalidPage) {
		t.Fatalf("page err = %v", err)
	}
	if _, err := (&Recognizer{Rasterizer: blankRenderer{}}).Start(context.Background(), doc, Options{}, nil); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("engine err = %v", err)
	}

	run, err := r.Start(context.Background(), doc, Options{Pages: []int{3, 1, 3}}, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	results, err := wait(t, run)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(results) != 2 || results[0].PageNumber != 1 || results[1].PageNumber != 3 {
		t.Fatalf("results = %+v", results)
	}
}

func TestValidateLanguage(t *testing.T) {
	if got, err := ValidateLanguage(""); err != nil || got != DefaultLanguage {
		t.Fatalf("empty = %q, %v", got, err)
	}
	if got, err := ValidateLanguage(" CHI_SIM "); err != nil || got != "chi_sim" {
		t.Fatalf("chi_sim = %q, %v", got, err)
	}
	if len(Languages()) != 15 {
		t.Fatalf("languages = %d", len(Languages()))
	}
}

func TestRecognizeImagesFallsBackToEngine(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	in, err := NewInput("scan", 0, img, WithLanguages("eng"), WithTesseractPSM(6))
	if err != nil {
		t.Fatalf("input: %v", err)
	}
	if in.Format != ImageFormatPNG || in.Metadata["tessedit_pageseg_mode"] != "6" {
		t.Fatalf("input = %+v", in)
	}
	out, err := RecognizeImages(context.Background(), &fakeEngine{}, []Input{in})
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if len(out) != 1 || out[0].InputID != "scan" || out[0].PlainText != "text 1" {
		t.Fatalf("results = %+v", out)
	}
}
