package models

import (
	"time"

	"github.com/uptrace/bun"
)

// FileTypeBook is the only file type the indexer produces.
const FileTypeBook = "book"

type File struct {
	bun.BaseModel `bun:"table:files,alias:f"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	BookID    int       `bun:",nullzero" json:"book_id"`
	Book      *Book     `bun:"rel:belongs-to" json:"book,omitempty"`
	Type      string    `bun:",nullzero,default:'book'" json:"type"`
	Format    string    `bun:",nullzero" json:"format"`
	Path      string    `bun:",nullzero" json:"path"`
	Sha256    *string   `json:"sha256,omitempty"`
	Size      int64     `json:"size"`
}
