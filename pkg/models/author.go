package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Author struct {
	bun.BaseModel `bun:"table:authors,alias:a"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Name        string    `bun:",nullzero" json:"name"`
	SortName    string    `bun:",nullzero" json:"sort_name"`
	Slug        string    `bun:",nullzero" json:"slug"`
	Bio         *string   `json:"bio,omitempty"`
	Nationality *string   `json:"nationality,omitempty"`
	DateOfBirth *string   `json:"date_of_birth,omitempty"`
	ImagePath   *string   `json:"image_path,omitempty"`
	Books       []*Book   `bun:"rel:has-many" json:"books,omitempty"`
}
