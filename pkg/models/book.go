package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID               int       `bun:",pk,nullzero" json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Title            string    `bun:",nullzero" json:"title"`
	OriginalTitle    *string   `json:"original_title,omitempty"`
	SortTitle        string    `bun:",nullzero" json:"sort_title"`
	Slug             string    `bun:",nullzero" json:"slug"`
	AuthorID         int       `bun:",nullzero" json:"author_id"`
	Author           *Author   `bun:"rel:belongs-to" json:"author,omitempty"`
	SeriesID         *int      `json:"series_id,omitempty"`
	Series           *Series   `bun:"rel:belongs-to" json:"series,omitempty"`
	SeriesOrder      *float64  `json:"series_order,omitempty"`
	Description      *string   `json:"description,omitempty"`
	FirstPublishYear *int      `json:"first_publish_year,omitempty"`
	CoverImagePath   *string   `json:"cover_image_path,omitempty"`
	Files            []*File   `bun:"rel:has-many" json:"files,omitempty"`
}
