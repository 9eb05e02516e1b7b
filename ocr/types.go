package ocr

import "context"

// ImageFormat identifies the content type of an OCR input image.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatJPEG ImageFormat = "image/jpeg"
	ImageFormatTIFF ImageFormat = "image/tiff"
)

// Region describes a rectangular area in pixel coordinates with the origin in
// the upper-left corner of the image.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Input is a single image submitted for OCR.
type Input struct {
	// ID is echoed back in Result.InputID. Recognizer uses the page id.
	ID string
	// Image is the encoded image payload in the format specified by Format.
	Image  []byte
	Format ImageFormat
	// PageIndex is the zero-based page the image was rendered from.
	PageIndex int
	// DPI is the raster resolution; zero means unknown.
	DPI int
	// Languages lists trained-data codes such as "eng" or "chi_sim".
	Languages []string
	// Region restricts recognition to part of the image. Nil means all of it.
	Region *Region
	// Metadata passes engine-specific variables through, e.g.
	// "tessedit_pageseg_mode" for Tesseract.
	Metadata map[string]string
}

// TextWord represents a single recognized token.
type TextWord struct {
	Text       string
	Bounds     Region
	Confidence float64
}

// TextLine groups words that share a baseline.
type TextLine struct {
	Text       string
	Bounds     Region
	Words      []TextWord
	Confidence float64
}

// TextBlock aggregates lines that form a logical block (paragraph, heading, etc).
type TextBlock struct {
	Text       string
	Bounds     Region
	Lines      []TextLine
	Confidence float64
}

// Result captures OCR output for a single input image.
type Result struct {
	InputID   string
	PlainText string
	Blocks    []TextBlock
	Language  string
	// Confidence is in [0,1]. Engines that do not report one leave it zero
	// and Recognizer falls back to the block average.
	Confidence float64
}

// MeanConfidence returns Confidence, or the mean block confidence when the
// engine left it unset.
func (r Result) MeanConfidence() float64 {
	if r.Confidence > 0 || len(r.Blocks) == 0 {
		return r.Confidence
	}
	var sum float64
	for _, b := range r.Blocks {
		sum += b.Confidence
	}
	return sum / float64(len(r.Blocks))
}

// Engine is the simplest OCR provider contract: one image in, one result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}

// BatchEngine handles multiple images in a single call, enabling providers that
// amortize setup costs or remote round-trips.
type BatchEngine interface {
	Engine
	RecognizeBatch(ctx context.Context, inputs []Input) ([]Result, error)
}

// Worker is a recognizer bound to one language. A Worker is used by a single
// goroutine at a time.
type Worker interface {
	Recognize(ctx context.Context, input Input) (Result, error)
	Close() error
}

// WorkerEngine is implemented by engines with expensive per-instance setup.
// Recognizer creates one Worker per goroutine before dispatching any page.
type WorkerEngine interface {
	Engine
	NewWorker(ctx context.Context, language string) (Worker, error)
}

// JobState is the lifecycle of a Run.
type JobState string

const (
	JobStateIdle     JobState = "idle"
	JobStateRunning  JobState = "running"
	JobStateDone     JobState = "done"
	JobStateError    JobState = "error"
	JobStateCanceled JobState = "canceled"
)

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == JobStateDone || s == JobStateError || s == JobStateCanceled
}

// ProgressStatus names the phase a progress report belongs to.
type ProgressStatus string

const (
	StatusInitializing ProgressStatus = "initializing"
	StatusRecognizing  ProgressStatus = "recognizing"
	StatusComplete     ProgressStatus = "complete"
	StatusError        ProgressStatus = "error"
)

// Progress is one report delivered to a Run's callback. Fraction is the
// share of pages finished, in [0,1]. Page is the 1-based page number the
// report is about, or zero.
type Progress struct {
	Status   ProgressStatus
	Fraction float64
	Message  string
	Page     int
}
