package convert

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"

	"media-pipeline/internal/logging"
)

// EncodeParams selects the output quality for one task.
type EncodeParams struct {
	Quality  int
	Effort   int
	Animated bool
}

// Encoder re-encodes an image buffer and reports the output content type
// and file extension.
type Encoder interface {
	Encode(src []byte, params EncodeParams) (out []byte, contentType, ext string, err error)
}

// NewEncoder selects the conversion backend. libvips WebP is the default;
// fallback picks the pure-Go JPEG path for hosts without libvips.
func NewEncoder(fallback bool) Encoder {
	if fallback {
		logging.Info("Using pure-Go JPEG encoder for image conversion")
		return &FallbackEncoder{}
	}
	return NewVipsEncoder()
}

var vipsOnce sync.Once

// InitVips starts the libvips runtime. Safe to call more than once.
func InitVips() {
	vipsOnce.Do(func() {
		vips.LoggingSettings(func(messageDomain string, messageLevel vips.LogLevel, message string) {
			if messageLevel <= vips.LogLevelError {
				logging.Error("vips: %s: %s", messageDomain, message)
			}
		}, vips.LogLevelError)
		vips.Startup(&vips.Config{
			ConcurrencyLevel: 1,
			MaxCacheFiles:    0,
			MaxCacheMem:      50 * 1024 * 1024,
			MaxCacheSize:     100,
		})
		logging.Info("libvips initialized for image conversion")
	})
}

// VipsEncoder produces WebP output with libvips.
type VipsEncoder struct{}

// NewVipsEncoder initializes libvips and returns the encoder.
func NewVipsEncoder() *VipsEncoder {
	InitVips()
	return &VipsEncoder{}
}

// Encode re-encodes src as WebP. Animated sources keep all frames.
func (e *VipsEncoder) Encode(src []byte, params EncodeParams) ([]byte, string, string, error) {
	importParams := vips.NewImportParams()
	if params.Animated {
		// -1 loads every page of an animated source.
		importParams.NumPages.Set(-1)
	}

	img, err := vips.LoadImageFromBuffer(src, importParams)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to load image: %w", err)
	}
	defer img.Close()

	ep := vips.NewWebpExportParams()
	ep.Quality = params.Quality
	ep.ReductionEffort = params.Effort
	ep.StripMetadata = true

	out, _, err := img.ExportWebp(ep)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to export webp: %w", err)
	}
	return out, "image/webp", ".webp", nil
}

// FallbackEncoder re-encodes still images as JPEG using pure Go, for
// deployments without libvips. Animated sources are rejected since frame
// fidelity would be lost.
type FallbackEncoder struct{}

func (e *FallbackEncoder) Encode(src []byte, params EncodeParams) ([]byte, string, string, error) {
	if params.Animated {
		return nil, "", "", fmt.Errorf("fallback encoder cannot convert animated images")
	}

	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(params.Quality)); err != nil {
		return nil, "", "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", ".jpg", nil
}
