package types

import "time"

// ProfileImage is the metadata of a user's stored profile picture.
// A user owns at most one image at a time.
type ProfileImage struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	FileName   string    `json:"file_name" db:"file_name"`
	ObjectKey  string    `json:"-" db:"object_key"`
	URL        string    `json:"url" db:"url"`
	UploadDate time.Time `json:"upload_date" db:"upload_date"`
}
