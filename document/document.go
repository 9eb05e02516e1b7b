package document

import (
	"context"
	"crypto/subtle"
	"fmt"
	"image"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/wudi/pdfstudio/ir/raw"
	"github.com/wudi/pdfstudio/pages"
	"github.com/wudi/pdfstudio/render"
	"github.com/wudi/pdfstudio/security"
)

// Device selects the thumbnail scale.
type Device int

const (
	Desktop Device = iota
	Mobile
)

// ThumbnailScale is pixels per point for page thumbnails.
func (d Device) ThumbnailScale() float64 {
	if d == Mobile {
		return 0.3
	}
	return 0.5
}

func (d Device) String() string {
	if d == Mobile {
		return "mobile"
	}
	return "desktop"
}

// Info is the document information dictionary.
type Info struct {
	Title    string
	Author   string
	Subject  string
	Keywords []string
	Creator  string
	Producer string
}

// Protection describes the encryption applied on export.
type Protection struct {
	UserPassword  string
	OwnerPassword string
	Permissions   raw.Permissions
	Algorithm     security.Algorithm

	// Set for protection read from an encrypted input. userKnown reports
	// whether UserPassword holds the real user password.
	source    *security.Retained
	userKnown bool
}

// Check reports whether pwd opens the protected document as user or owner.
func (p *Protection) Check(pwd string) bool {
	if p == nil {
		return false
	}
	if p.source != nil {
		h, err := (&security.HandlerBuilder{}).WithEncryptDict(p.source.Dict).WithFileID(p.source.FileID).Build()
		if err != nil {
			return false
		}
		_, err = h.Authenticate(pwd)
		return err == nil
	}
	match := func(want string) bool {
		return want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(pwd)) == 1
	}
	return match(p.UserPassword) || match(p.OwnerPassword)
}

// encryption returns the writer settings for p. Protection read from an
// input keeps its keys and passwords unless the algorithm or permissions
// change; re-keying then needs both passwords.
func (p *Protection) encryption(alg security.Algorithm) (*security.EncryptionConfig, error) {
	cfg := &security.EncryptionConfig{
		Algorithm:     alg,
		UserPassword:  p.UserPassword,
		OwnerPassword: p.OwnerPassword,
		Permissions:   p.Permissions,
	}
	if p.source == nil {
		return cfg, nil
	}
	if alg == p.Algorithm && p.Permissions == p.source.Handler.Permissions() {
		cfg.Retain = p.source
		return cfg, nil
	}
	if !p.userKnown || p.OwnerPassword == "" {
		return nil, fmt.Errorf("%w: re-encrypting needs the user and owner passwords", ErrUnsupportedEncryption)
	}
	return cfg, nil
}

// Document is an immutable snapshot of a loaded PDF. Operations return new
// documents and share unchanged pages.
type Document struct {
	ID         string
	Version    string
	Pages      []*Page
	SourceSize int64
	Revision   uint64
	Info       Info
	Protection *Protection
}

func (d *Document) PageCount() int { return len(d.Pages) }

// PageByID returns the page and its index, or nil and -1.
func (d *Document) PageByID(id string) (*Page, int) {
	for i, p := range d.Pages {
		if p.ID == id {
			return p, i
		}
	}
	return nil, -1
}

// Selected returns the selected pages in document order.
func (d *Document) Selected() []*Page {
	var out []*Page
	for _, p := range d.Pages {
		if p.Selected {
			out = append(out, p)
		}
	}
	return out
}

// Derive returns a successor of d holding pgs, renumbered 1..n.
func (d *Document) Derive(pgs []*Page) *Document {
	cp := *d
	cp.ID = uuid.NewString()
	cp.Revision = d.Revision + 1
	cp.Pages = Renumber(pgs)
	return &cp
}

// Renumber returns pgs with Number set to the 1-based position. Pages whose
// number already matches are reused.
func Renumber(pgs []*Page) []*Page {
	out := make([]*Page, len(pgs))
	for i, p := range pgs {
		if p.Number != i+1 {
			p = p.Clone()
			p.Number = i + 1
		}
		out[i] = p
	}
	return out
}

// Page is one page of a Document. Pages are treated as immutable once part
// of a document; use Clone to change a field.
type Page struct {
	ID       string
	Number   int
	Rotation int
	Selected bool
	Source   *pages.Source

	thumb *thumbnail
}

// NewPage wraps src with a fresh id.
func NewPage(src *pages.Source, renderer render.Renderer, scale float64) *Page {
	return &Page{ID: uuid.NewString(), Source: src, thumb: &thumbnail{renderer: renderer, scale: scale}}
}

// Clone copies p. The copy keeps the cached thumbnail until its number or
// rotation differ.
func (p *Page) Clone() *Page {
	cp := *p
	cp.thumb = p.thumb.clone()
	return &cp
}

// Copy returns a clone with a new id, unselected.
func (p *Page) Copy() *Page {
	cp := p.Clone()
	cp.ID = uuid.NewString()
	cp.Selected = false
	return cp
}

// WithRotation returns a clone rotated by delta degrees.
func (p *Page) WithRotation(delta int) *Page {
	cp := p.Clone()
	cp.Rotation = pages.NormalizeRotation(cp.Rotation + delta)
	return cp
}

// WithSource returns a clone showing src. The cached thumbnail is dropped.
func (p *Page) WithSource(src *pages.Source) *Page {
	cp := p.Clone()
	cp.Source = src
	if cp.thumb != nil {
		cp.thumb = &thumbnail{renderer: cp.thumb.renderer, scale: cp.thumb.scale}
	}
	return cp
}

// DisplaySize is the page size in points as shown, after both rotations.
func (p *Page) DisplaySize() (float64, float64) { return p.Source.DisplaySize(p.Rotation) }

// Thumbnail renders the page at the loader's device scale. The result is
// cached until the page number or rotation changes.
func (p *Page) Thumbnail(ctx context.Context) (image.Image, error) {
	if p.thumb == nil || p.thumb.renderer == nil {
		return nil, ErrNoRenderer
	}
	return p.thumb.get(ctx, p)
}

type thumbKey struct {
	number, rotation int
}

type thumbnail struct {
	renderer render.Renderer
	scale    float64

	mu  sync.Mutex
	key thumbKey
	img image.Image
}

func (t *thumbnail) clone() *thumbnail {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &thumbnail{renderer: t.renderer, scale: t.scale, key: t.key, img: t.img}
}

func (t *thumbnail) get(ctx context.Context, p *Page) (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := thumbKey{number: p.Number, rotation: p.Rotation}
	if t.img != nil && t.key == key {
		return t.img, nil
	}
	img, err := t.renderer.Render(ctx, p.Source, render.Options{
		Scale:    t.scale,
		Rotation: p.Rotation,
		Label:    strconv.Itoa(p.Number),
	})
	if err != nil {
		return nil, err
	}
	t.key, t.img = key, img
	return img, nil
}
