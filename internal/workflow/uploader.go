package workflow

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/roundup-invest/receipt-review/errors"
)

// DefaultMaxUploadBytes caps receipt files when no limit is configured.
const DefaultMaxUploadBytes int64 = 10 << 20

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"pdf":  true,
}

// Allowed MIME types for receipt uploads
var allowedMimeTypes = []string{"image/png", "image/jpeg", "application/pdf"}

const unsupportedFileMessage = "Unsupported file type. Please upload a PNG, JPG or PDF receipt."

// CheckExtension validates the file name against the upload allow-list.
func CheckExtension(filename string) error {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !allowedExtensions[ext] {
		return errors.ValidationFailed(unsupportedFileMessage, fmt.Sprintf("extension %q is not allowed", ext))
	}
	return nil
}

// validatedFile is an upload that passed local checks.
type validatedFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// validateUpload reads and checks a receipt file without touching the network.
func validateUpload(filename string, r io.Reader, maxBytes int64) (*validatedFile, error) {
	if err := CheckExtension(filename); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.ValidationFailed("File is empty", filename)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}

	content, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, errors.ValidationError, "Could not read file")
	}
	if len(content) == 0 {
		return nil, errors.ValidationFailed("File is empty", filename)
	}
	if int64(len(content)) > maxBytes {
		return nil, errors.ValidationFailed("File is too large", fmt.Sprintf("maximum size is %d bytes", maxBytes))
	}

	detected := mimetype.Detect(content)
	for _, allowed := range allowedMimeTypes {
		if detected.Is(allowed) {
			return &validatedFile{Filename: filepath.Base(filename), ContentType: allowed, Content: content}, nil
		}
	}
	return nil, errors.ValidationFailed(unsupportedFileMessage, fmt.Sprintf("content type %s is not allowed", detected.String()))
}
