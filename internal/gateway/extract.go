// ABOUTME: Upload handlers that turn a photo or recording into editable problem text
// ABOUTME: Reads the multipart "file" field and maps extraction errors to HTTP statuses

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/2389/mentor-gateway/internal/perception"
	"github.com/2389/mentor-gateway/internal/tutor"
)

// multipartOverhead leaves room for boundaries and headers around the file.
const multipartOverhead = 1 << 20

type extractFunc func(ctx context.Context, filename string, data []byte) (string, error)

// handleExtractImage handles POST /api/extract/image.
func (g *Gateway) handleExtractImage(w http.ResponseWriter, r *http.Request) {
	if g.extractor == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "extraction not configured")
		return
	}
	g.handleExtract(w, r, tutor.InputImage, g.extractor.ExtractImage)
}

// handleExtractAudio handles POST /api/extract/audio.
func (g *Gateway) handleExtractAudio(w http.ResponseWriter, r *http.Request) {
	if g.extractor == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "extraction not configured")
		return
	}
	g.handleExtract(w, r, tutor.InputAudio, g.extractor.TranscribeAudio)
}

// handleExtract reads the upload and returns the extracted text. Nothing is
// solved here; the client confirms the text and submits it to /api/solve.
func (g *Gateway) handleExtract(w http.ResponseWriter, r *http.Request, inputType tutor.InputType, extract extractFunc) {
	r.Body = http.MaxBytesReader(w, r.Body, perception.MaxUploadSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			g.sendJSONError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, perception.MaxUploadSize+1))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	text, err := extract(r.Context(), header.Filename, data)
	if err != nil {
		status, msg := extractErrorStatus(err)
		if status >= http.StatusInternalServerError {
			g.logger.Error("extraction failed", "input_type", inputType, "filename", header.Filename, "error", err)
		}
		g.sendJSONError(w, status, msg)
		return
	}

	g.logger.Info("extracted problem text", "input_type", inputType, "filename", header.Filename, "chars", len(text))
	g.sendJSON(w, http.StatusOK, ExtractResponse{Text: text, InputType: string(inputType)})
}

func extractErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, perception.ErrEmptyInput):
		return http.StatusBadRequest, "file is empty"
	case errors.Is(err, perception.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, perception.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, perception.ErrNothingExtracted):
		return http.StatusUnprocessableEntity, "no text could be extracted"
	default:
		return http.StatusBadGateway, "extraction failed"
	}
}
