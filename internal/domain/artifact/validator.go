package artifact

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"runtime"
	"strings"

	// Decoders for the full-decode check.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/semaphore"
)

// maxPixels guards against decompression bombs: tiny files declaring huge canvases.
const maxPixels = 60_000_000

// Accepted describes a validated upload.
type Accepted struct {
	ContentType string
	Size        int64
	Width       int
	Height      int

	// Image is the decoded original of an image upload, handed to the
	// pipeline so the bytes are decoded only once.
	Image image.Image
}

// Validator decides whether raw bytes may be stored under a category.
// It looks only at the bytes: filenames and declared MIME types are ignored.
type Validator struct {
	policy Policy
	// bounds concurrent full decodes, the memory-heavy step
	decodeSlots *semaphore.Weighted
}

func NewValidator(policy Policy) *Validator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Validator{
		policy:      policy,
		decodeSlots: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

// Limit returns the maximum accepted size for c, or 0 for unknown categories.
func (v *Validator) Limit(c Category) int64 {
	return v.policy[c].MaxBytes
}

// Validate returns the authoritative content type, or one of
// ErrTooLarge, ErrUnsupportedType or ErrCorruptContent.
func (v *Validator) Validate(data []byte, c Category) (*Accepted, error) {
	rule, ok := v.policy[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}

	size := int64(len(data))
	if size == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrCorruptContent)
	}
	if size > rule.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, rule.MaxBytes)
	}

	detected := mimetype.Detect(data)
	contentType := match(detected, rule.AllowedTypes)
	if contentType == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, detected.String())
	}

	accepted := &Accepted{ContentType: contentType, Size: size}
	if !strings.HasPrefix(contentType, "image/") {
		return accepted, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptContent, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty canvas", ErrCorruptContent)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d pixels", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, err := v.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptContent, err)
	}
	b := img.Bounds()
	accepted.Width, accepted.Height = b.Dx(), b.Dy()
	accepted.Image = img

	return accepted, nil
}

func (v *Validator) decode(data []byte) (image.Image, error) {
	if err := v.decodeSlots.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	defer v.decodeSlots.Release(1)

	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// match walks the detected type and its parents (docx is a zip, for example)
// and returns the first allowed type it satisfies.
func match(detected *mimetype.MIME, allowed []string) string {
	for m := detected; m != nil; m = m.Parent() {
		for _, a := range allowed {
			if m.Is(a) {
				return a
			}
		}
	}
	return ""
}
