package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/sweetcrumb/accounts/internal/storage"
)

const (
	maxMultipartMemory  = 8 << 20
	formFieldProfilePic = "profilePic"
)

var errUploadTooLarge = errors.New("uploaded file too large")

// UploadedFile is a file received in a multipart form.
type UploadedFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.EqualFold(mediaType, "multipart/form-data")
}

func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	// Leave headroom for the text fields next to the picture.
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxProfilePicBytes+maxJSONBodyBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errUploadTooLarge
		}
		return errors.New("invalid multipart form")
	}
	return nil
}

// parseSingleFile returns the only file sent under field, or nil when the
// field is absent.
func parseSingleFile(form *multipart.Form, field string, limit int64) (*UploadedFile, error) {
	if form == nil {
		return nil, nil
	}

	files := form.File[field]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, fmt.Errorf("only one %s file is allowed", field)
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s file: %w", field, err)
	}

	data, err := readFileLimited(file, limit)
	_ = file.Close()
	if err != nil {
		return nil, err
	}

	return &UploadedFile{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errUploadTooLarge
	}
	return data, nil
}
