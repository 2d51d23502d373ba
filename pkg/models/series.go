package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	ID           int       `bun:",pk,nullzero" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Name         string    `bun:",nullzero" json:"name"`
	OriginalName *string   `json:"original_name,omitempty"`
	Slug         string    `bun:",nullzero" json:"slug"`
	AuthorID     int       `bun:",nullzero" json:"author_id"`
	Author       *Author   `bun:"rel:belongs-to" json:"author,omitempty"`
	Description  *string   `json:"description,omitempty"`
	ImagePath    *string   `json:"image_path,omitempty"`
	Books        []*Book   `bun:"rel:has-many" json:"books,omitempty"`
}
