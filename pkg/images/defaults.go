package images

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"path/filepath"

	"github.com/booknest/booknest/pkg/fileutils"
	"golang.org/x/image/draw"
)

// Names of the placeholder files looked up in the assets directory.
const (
	DefaultAuthorImage = "default_author.jpg"
	defaultBookPattern = "default_book_%02d.jpg"
	DefaultBookCount   = 4
)

var (
	authorPlaceholderColor = color.RGBA{0x9e, 0x9e, 0x9e, 0xff}
	bookPlaceholderColors  = []color.RGBA{
		{0x5c, 0x6b, 0xc0, 0xff},
		{0x26, 0xa6, 0x9a, 0xff},
		{0xef, 0x6c, 0x00, 0xff},
		{0x8d, 0x6e, 0x63, 0xff},
	}
)

// Defaults writes placeholder images. Files from the assets directory are
// used when present, otherwise a plain placeholder is generated.
type Defaults struct {
	assetsDir string
	pick      func(n int) int
}

func NewDefaults(assetsDir string) *Defaults {
	return &Defaults{assetsDir: assetsDir, pick: rand.Intn}
}

// WriteAuthor writes the default author image to target.
func (d *Defaults) WriteAuthor(target string) error {
	return d.write(DefaultAuthorImage, target, 400, 400, authorPlaceholderColor)
}

// WriteBook writes one of the default book covers, chosen at random, to
// target.
func (d *Defaults) WriteBook(target string) error {
	i := d.pick(DefaultBookCount)
	return d.write(fmt.Sprintf(defaultBookPattern, i+1), target, 400, 600, bookPlaceholderColors[i])
}

func (d *Defaults) write(asset, target string, w, h int, c color.RGBA) error {
	if d.assetsDir != "" {
		src := filepath.Join(d.assetsDir, asset)
		if fileutils.Exists(src) {
			return fileutils.CopyFile(src, target)
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	data, err := encodeJPEG(img)
	if err != nil {
		return err
	}
	return writeFileAtomic(target, data)
}
