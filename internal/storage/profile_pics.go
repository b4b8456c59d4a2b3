package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sweetcrumb/accounts/types"
)

const (
	// MaxProfilePicBytes caps the size of an uploaded profile picture.
	MaxProfilePicBytes = 5 << 20

	// URLPrefix is the public path under which stored pictures are served.
	URLPrefix = "/uploads/"

	profilePicPrefix = "profile-pics/"
)

var (
	ErrUnsupportedImage = errors.New("only jpeg, jpg and png images are allowed")
	ErrImageTooLarge    = errors.New("image exceeds 5 MiB limit")
	ErrEmptyImage       = errors.New("image is empty")
	ErrInvalidKey       = errors.New("invalid picture path")
)

var imageTypes = map[string]string{
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
}

// ProfilePics stores account profile pictures in object storage.
type ProfilePics struct {
	store *Storage
	now   func() time.Time
}

func NewProfilePics(store *Storage) *ProfilePics {
	return &ProfilePics{store: store, now: time.Now}
}

// Save validates and uploads an image and returns its public reference.
// Both the filename extension and the declared content type must name a
// jpeg or png image.
func (p *ProfilePics) Save(ctx context.Context, filename, contentType string, data []byte) (types.ProfilePic, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	want, ok := imageTypes[ext]
	if !ok {
		return types.ProfilePic{}, ErrUnsupportedImage
	}
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != want {
			return types.ProfilePic{}, ErrUnsupportedImage
		}
	}
	if len(data) == 0 {
		return types.ProfilePic{}, ErrEmptyImage
	}
	if len(data) > MaxProfilePicBytes {
		return types.ProfilePic{}, ErrImageTooLarge
	}
	if sniffed := http.DetectContentType(data); sniffed != want {
		return types.ProfilePic{}, ErrUnsupportedImage
	}

	now := p.now().UTC()
	key := fmt.Sprintf("%s%d-%s%s", profilePicPrefix, now.UnixMilli(), uuid.NewString(), ext)
	if err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), want); err != nil {
		return types.ProfilePic{}, fmt.Errorf("store profile picture: %w", err)
	}

	return types.ProfilePic{Path: URLPrefix + key, UploadedAt: now}, nil
}

// Open returns a reader for a stored picture and its content type. key is
// the part of the public path after URLPrefix.
func (p *ProfilePics) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, "", err
	}
	r, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	return r, imageTypes[strings.ToLower(path.Ext(key))], nil
}

// Remove deletes the object behind pic. Pictures not stored by
// ProfilePics are ignored.
func (p *ProfilePics) Remove(ctx context.Context, pic *types.ProfilePic) error {
	if pic == nil {
		return nil
	}
	key, ok := strings.CutPrefix(pic.Path, URLPrefix)
	if !ok {
		return nil
	}
	key, err := cleanKey(key)
	if err != nil {
		return nil
	}
	return p.store.Delete(ctx, key)
}

func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key != path.Clean(key) || !strings.HasPrefix(key, profilePicPrefix) {
		return "", ErrInvalidKey
	}
	if _, ok := imageTypes[strings.ToLower(path.Ext(key))]; !ok {
		return "", ErrInvalidKey
	}
	return key, nil
}
