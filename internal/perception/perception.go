// ABOUTME: Turns photos and voice recordings into editable problem text
// ABOUTME: OCR goes through a vision chat call, ASR through the transcription endpoint

package perception

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/2389/mentor-gateway/internal/llm"
)

// OCRInstruction is sent alongside every image.
const OCRInstruction = "Extract the math problem from this image exactly as written. If it's handwritten, transcribe it carefully. Output only the text."

// ASRPrompt biases transcription toward spoken math notation.
const ASRPrompt = "The following is a math problem. Use standard mathematical notation like 'square root', 'plus', 'integral'."

// MaxUploadSize bounds image and audio uploads (25MB, the transcription API limit).
const MaxUploadSize = 25 << 20

var (
	ErrEmptyInput        = errors.New("empty input")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrTooLarge          = errors.New("input too large")
	ErrNothingExtracted  = errors.New("no text extracted")
)

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

var audioTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".m4a": "audio/mp4",
}

// Extractor runs OCR and ASR against the configured model client.
type Extractor struct {
	client             llm.Client
	visionModel        string
	transcriptionModel string
	logger             *slog.Logger
}

// Options configures an Extractor.
type Options struct {
	VisionModel        string
	TranscriptionModel string
	Logger             *slog.Logger
}

// New creates an Extractor.
func New(client llm.Client, opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client:             client,
		visionModel:        opts.VisionModel,
		transcriptionModel: opts.TranscriptionModel,
		logger:             logger.With("component", "perception"),
	}
}

// ExtractImage reads the math problem out of a photo. filename is used only
// as a format hint; the content is sniffed.
func (e *Extractor) ExtractImage(ctx context.Context, filename string, data []byte) (string, error) {
	mimeType, err := ImageMimeType(filename, data)
	if err != nil {
		return "", err
	}

	resp, err := e.client.Chat(ctx, &llm.ChatRequest{
		Model: e.visionModel,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: OCRInstruction,
			Images:  []llm.Attachment{{MimeType: mimeType, Data: data}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("extracting text from image: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", ErrNothingExtracted
	}
	e.logger.Info("image extracted", "bytes", len(data), "mime", mimeType, "chars", len(text))
	return text, nil
}

// TranscribeAudio converts a spoken problem to text.
func (e *Extractor) TranscribeAudio(ctx context.Context, filename string, data []byte) (string, error) {
	mimeType, err := AudioMimeType(filename, data)
	if err != nil {
		return "", err
	}
	if filename == "" {
		filename = "audio" + extensionFor(mimeType)
	}

	text, err := e.client.Transcribe(ctx, &llm.TranscriptionRequest{
		Model:    e.transcriptionModel,
		Filename: filepath.Base(filename),
		MimeType: mimeType,
		Prompt:   ASRPrompt,
		Audio:    data,
	})
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNothingExtracted
	}
	e.logger.Info("audio transcribed", "bytes", len(data), "mime", mimeType, "chars", len(text))
	return text, nil
}

// ImageMimeType validates an upload as JPEG or PNG. Content sniffing wins
// over the extension; unknown content with a known extension is accepted.
func ImageMimeType(filename string, data []byte) (string, error) {
	if err := checkSize(data); err != nil {
		return "", err
	}

	sniffed := http.DetectContentType(data)
	switch sniffed {
	case "image/jpeg", "image/png":
		return sniffed, nil
	}
	if strings.HasPrefix(sniffed, "image/") {
		return "", fmt.Errorf("%w: %s (use jpg or png)", ErrUnsupportedFormat, sniffed)
	}
	if mt, ok := imageTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt, nil
	}
	if filename == "" {
		// Unidentified bytes default to JPEG.
		return "image/jpeg", nil
	}
	return "", fmt.Errorf("%w: %s (use jpg or png)", ErrUnsupportedFormat, filepath.Ext(filename))
}

// AudioMimeType validates an upload as mp3, wav, or m4a.
func AudioMimeType(filename string, data []byte) (string, error) {
	if err := checkSize(data); err != nil {
		return "", err
	}

	if mt, ok := audioTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt, nil
	}

	switch sniffed := http.DetectContentType(data); {
	case sniffed == "audio/mpeg":
		return "audio/mpeg", nil
	case sniffed == "audio/wave":
		return "audio/wav", nil
	case isMP4Audio(data):
		return "audio/mp4", nil
	}
	return "", fmt.Errorf("%w: %q (use mp3, wav or m4a)", ErrUnsupportedFormat, filepath.Ext(filename))
}

// isMP4Audio matches the ftyp box of M4A files.
func isMP4Audio(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "M4A " || brand == "mp42" || brand == "isom"
}

func checkSize(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyInput
	}
	if len(data) > MaxUploadSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), MaxUploadSize)
	}
	return nil
}

func extensionFor(mimeType string) string {
	for ext, mt := range audioTypes {
		if mt == mimeType {
			return ext
		}
	}
	return ""
}
