package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/useraccounts/apiserver/internal/logging"
	"github.com/useraccounts/apiserver/internal/store"
	"github.com/useraccounts/apiserver/types"
)

const cleanupTimeout = 30 * time.Second

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var allowedImageTypes = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
}

// ImageRepository defines persistence operations for profile image metadata.
type ImageRepository interface {
	GetByUserID(ctx context.Context, userID string) (types.ProfileImage, error)
	Create(ctx context.Context, image types.ProfileImage) (types.ProfileImage, error)
	DeleteByUserID(ctx context.Context, userID string) error
}

// ObjectStore is the object storage the image use-cases write to.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// ImageUpload is a single uploaded file.
type ImageUpload struct {
	FileName string
	Data     []byte
}

// ImageService encapsulates profile image use-cases.
type ImageService struct {
	repo     ImageRepository
	objects  ObjectStore
	log      logging.Logger
	maxBytes int64
	now      func() time.Time
}

// NewImageService wires the image use-cases. A nil objects store disables them.
func NewImageService(repo ImageRepository, objects ObjectStore, log logging.Logger, maxBytes int64) *ImageService {
	return &ImageService{
		repo:     repo,
		objects:  objects,
		log:      log,
		maxBytes: maxBytes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MaxBytes is the largest accepted upload.
func (s *ImageService) MaxBytes() int64 {
	return s.maxBytes
}

// Upload stores the object first and the metadata second. Metadata is never
// written for a failed upload, and an object whose metadata write fails is removed.
func (s *ImageService) Upload(ctx context.Context, userID string, upload ImageUpload) (types.ProfileImage, error) {
	if s.objects == nil {
		return types.ProfileImage{}, ErrStorageDisabled
	}
	if s.maxBytes > 0 && int64(len(upload.Data)) > s.maxBytes {
		return types.ProfileImage{}, ErrImageTooLarge
	}
	contentType, err := detectImageType(upload.FileName, upload.Data)
	if err != nil {
		return types.ProfileImage{}, err
	}

	if _, err := s.repo.GetByUserID(ctx, userID); err == nil {
		return types.ProfileImage{}, ErrImageExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.ProfileImage{}, err
	}

	imageID := uuid.NewString()
	fileName := sanitizeFileName(upload.FileName)
	key := path.Join(userID, imageID+"-"+fileName)

	if err := s.objects.Put(ctx, key, bytes.NewReader(upload.Data), int64(len(upload.Data)), contentType); err != nil {
		return types.ProfileImage{}, fmt.Errorf("upload object: %w", err)
	}

	image, err := s.repo.Create(ctx, types.ProfileImage{
		ID:         imageID,
		UserID:     userID,
		FileName:   fileName,
		ObjectKey:  key,
		URL:        s.objects.URL(key),
		UploadDate: s.now(),
	})
	if err != nil {
		s.removeOrphan(ctx, key)
		if errors.Is(err, store.ErrConflict) {
			return types.ProfileImage{}, ErrImageExists
		}
		return types.ProfileImage{}, err
	}

	s.log.Info(ctx, "profile image uploaded", "user_id", userID, "image_id", image.ID)
	return image, nil
}

func (s *ImageService) Get(ctx context.Context, userID string) (types.ProfileImage, error) {
	if s.objects == nil {
		return types.ProfileImage{}, ErrStorageDisabled
	}
	image, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.ProfileImage{}, ErrImageNotFound
		}
		return types.ProfileImage{}, err
	}
	return image, nil
}

// Delete removes the stored object, then its metadata. When the object
// cannot be removed the metadata is kept so the delete can be retried.
func (s *ImageService) Delete(ctx context.Context, userID string) error {
	image, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.objects.Delete(ctx, image.ObjectKey); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if err := s.repo.DeleteByUserID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrImageNotFound
		}
		return err
	}

	s.log.Info(ctx, "profile image deleted", "user_id", userID, "image_id", image.ID)
	return nil
}

func (s *ImageService) removeOrphan(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.objects.Delete(ctx, key); err != nil {
		s.log.Error(ctx, "failed to remove orphaned image object", "key", key, "error", err)
		return
	}
	s.log.Warn(ctx, "removed orphaned image object", "key", key)
}

// detectImageType sniffs the content and requires the extension to agree with it.
func detectImageType(fileName string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrInvalidImage
	}
	contentType := http.DetectContentType(data)
	extensions, ok := allowedImageTypes[contentType]
	if !ok {
		return "", ErrInvalidImage
	}
	ext := strings.ToLower(path.Ext(fileName))
	for _, allowed := range extensions {
		if ext == allowed {
			return contentType, nil
		}
	}
	return "", ErrInvalidImage
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "image"
	}
	return name
}
