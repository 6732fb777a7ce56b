package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/useraccounts/apiserver/types"
)

// ImageRepository handles persistence for profile image metadata.
type ImageRepository struct {
	db      *sql.DB
	timeout time.Duration
}

func NewImageRepository(db *sql.DB, timeout time.Duration) *ImageRepository {
	return &ImageRepository{db: db, timeout: timeout}
}

func (r *ImageRepository) GetByUserID(ctx context.Context, userID string) (types.ProfileImage, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, user_id, file_name, object_key, url, upload_date
		FROM user_images
		WHERE user_id = $1`
	var image types.ProfileImage
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&image.ID,
		&image.UserID,
		&image.FileName,
		&image.ObjectKey,
		&image.URL,
		&image.UploadDate,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ProfileImage{}, ErrNotFound
		}
		return types.ProfileImage{}, err
	}
	return image, nil
}

// Create inserts image metadata. A second image for the same user yields ErrConflict.
func (r *ImageRepository) Create(ctx context.Context, image types.ProfileImage) (types.ProfileImage, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO user_images (id, user_id, file_name, object_key, url, upload_date)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		image.ID,
		image.UserID,
		image.FileName,
		image.ObjectKey,
		image.URL,
		image.UploadDate,
	); err != nil {
		return types.ProfileImage{}, translateError(err)
	}
	return image, nil
}

func (r *ImageRepository) DeleteByUserID(ctx context.Context, userID string) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	const query = `DELETE FROM user_images WHERE user_id = $1`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
