package imageio

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

var (
	// ErrTooLarge means the request body exceeded the upload limit.
	ErrTooLarge = errors.New("upload too large")
	// ErrNoImage means the request carried no image bytes.
	ErrNoImage = errors.New("no image provided")
)

// DefaultUploadFields are the multipart field names accepted for an image.
var DefaultUploadFields = []string{"image", "file"}

// ReadUpload returns the image bytes of r. Multipart bodies are searched for
// the first present field in fields (DefaultUploadFields when empty); any
// other content type is read as the raw image.
func ReadUpload(w http.ResponseWriter, r *http.Request, maxBytes int64, fields ...string) ([]byte, error) {
	if len(fields) == 0 {
		fields = DefaultUploadFields
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, uploadError(err)
		}
		if len(data) == 0 {
			return nil, ErrNoImage
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, uploadError(err)
	}
	for _, field := range fields {
		file, _, err := r.FormFile(field)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return nil, uploadError(err)
		}
		if len(data) == 0 {
			return nil, ErrNoImage
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: expected multipart field %s", ErrNoImage, strings.Join(fields, " or "))
}

func uploadError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, mbe.Limit)
	}
	return fmt.Errorf("read upload: %w", err)
}

// UploadStatus maps an upload or decode error to an HTTP status code.
func UploadStatus(err error) int {
	if errors.Is(err, ErrTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
