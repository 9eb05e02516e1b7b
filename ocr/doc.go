// Package ocr recognizes text on document pages. Engines are pluggable
// (the tesseract subpackage provides the local one); Recognizer drives them
// over a bounded pool of workers and reports progress in page order.
package ocr
