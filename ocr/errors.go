package ocr

import "errors"

var (
	ErrUnsupportedLanguage = errors.New("unsupported OCR language")
	ErrBackendInit         = errors.New("OCR engine failed to initialize")
	ErrNoEngine            = errors.New("no OCR engine configured")
	ErrInvalidPage         = errors.New("page number out of range")
	ErrCanceled            = errors.New("OCR run canceled")
)
