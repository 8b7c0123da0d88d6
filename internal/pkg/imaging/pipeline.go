package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"runtime"

	// Registered decoders for the accepted raster formats.
	_ "image/png"

	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// OutputContentType is the single format every rendition is encoded to.
const OutputContentType = "image/jpeg"

// ErrDecode is returned when the original cannot be decoded.
var ErrDecode = errors.New("failed to decode image")

// Size is a named bounding box.
type Size struct {
	Name   string
	Width  int
	Height int
}

var (
	SizeThumbnail = Size{Name: "thumbnail", Width: 150, Height: 150}
	SizeMedium    = Size{Name: "medium", Width: 800, Height: 800}
	SizeLarge     = Size{Name: "large", Width: 1920, Height: 1920}
)

// DefaultSizes is the variant set derived for every image artifact.
var DefaultSizes = []Size{SizeThumbnail, SizeMedium, SizeLarge}

// Rendition is one encoded variant.
type Rendition struct {
	Name      string
	Width     int
	Height    int
	MaxWidth  int
	MaxHeight int
	Data      []byte
}

// Pipeline derives bounded JPEG renditions from an original image.
type Pipeline struct {
	quality int
	sizes   []Size
	sem     *semaphore.Weighted
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithSizes overrides the default variant set.
func WithSizes(sizes ...Size) Option {
	return func(p *Pipeline) { p.sizes = sizes }
}

// WithConcurrency bounds how many Derive calls may run at once.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewPipeline creates a pipeline. quality is the JPEG quality (1-100), 85 if out of range.
func NewPipeline(quality int, opts ...Option) *Pipeline {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	p := &Pipeline{
		quality: quality,
		sizes:   DefaultSizes,
		sem:     semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Derive decodes original once and produces one rendition per configured size.
// If any rendition fails nothing is returned.
func (p *Pipeline) Derive(ctx context.Context, original []byte) ([]Rendition, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	src, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return p.renderAll(ctx, src)
}

// DeriveImage is Derive for an original the caller already decoded.
func (p *Pipeline) DeriveImage(ctx context.Context, src image.Image) ([]Rendition, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil image", ErrDecode)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	return p.renderAll(ctx, src)
}

func (p *Pipeline) renderAll(ctx context.Context, src image.Image) ([]Rendition, error) {
	flat := flatten(src)

	out := make([]Rendition, len(p.sizes))
	g, gctx := errgroup.WithContext(ctx)
	for i, size := range p.sizes {
		i, size := i, size
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := p.render(flat, size)
			if err != nil {
				return fmt.Errorf("derive %s: %w", size.Name, err)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) render(src image.Image, size Size) (Rendition, error) {
	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), size.Width, size.Height)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.quality}); err != nil {
		return Rendition{}, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	return Rendition{
		Name:      size.Name,
		Width:     w,
		Height:    h,
		MaxWidth:  size.Width,
		MaxHeight: size.Height,
		Data:      buf.Bytes(),
	}, nil
}

// Fit returns the largest dimensions inside maxW x maxH that keep the aspect
// ratio of w x h, never exceeding the original size.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	if scale >= 1 {
		return w, h
	}
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return min(max(nw, 1), maxW), min(max(nh, 1), maxH)
}

// flatten composites src onto an opaque white canvas since JPEG has no alpha.
func flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
