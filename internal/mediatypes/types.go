package mediatypes

import (
	"encoding/json"
	"errors"
	"strings"
)

// MediaKind represents the classification of an uploaded media asset.
type MediaKind string

const (
	// KindImage represents a still image.
	KindImage MediaKind = "IMAGE"
	// KindAnimatedImage represents a multi-frame image (GIF, animated WebP).
	KindAnimatedImage MediaKind = "ANIMATED_IMAGE"
	// KindVideo represents a video file.
	KindVideo MediaKind = "VIDEO"
)

// ErrUnsupportedType is returned when a declared MIME type maps to no
// supported media kind.
var ErrUnsupportedType = errors.New("unsupported media type")

// ImageMimeTypes maps supported still-image MIME types to their canonical
// file extension.
var ImageMimeTypes = map[string]string{
	"image/jpeg":    ".jpg",
	"image/pjpeg":   ".jpg",
	"image/png":     ".png",
	"image/bmp":     ".bmp",
	"image/webp":    ".webp",
	"image/tiff":    ".tiff",
	"image/heic":    ".heic",
	"image/heif":    ".heif",
	"image/avif":    ".avif",
	"image/svg+xml": ".svg",
}

// AnimatedImageMimeTypes maps supported animated-image MIME types to their
// canonical file extension. GIF is always treated as animated; sniffing the
// frame count is not worth a wrong answer on truncated files.
var AnimatedImageMimeTypes = map[string]string{
	"image/gif":  ".gif",
	"image/apng": ".png",
}

// VideoMimeTypes maps supported video MIME types to their canonical file
// extension.
var VideoMimeTypes = map[string]string{
	"video/mp4":        ".mp4",
	"video/x-matroska": ".mkv",
	"video/x-msvideo":  ".avi",
	"video/quicktime":  ".mov",
	"video/x-ms-wmv":   ".wmv",
	"video/x-flv":      ".flv",
	"video/webm":       ".webm",
	"video/x-m4v":      ".m4v",
	"video/mpeg":       ".mpg",
	"video/3gpp":       ".3gp",
	"video/mp2t":       ".ts",
}

// MediaExtensions is the set of file extensions the pipeline manages.
// The orphan reconciler refuses to touch anything outside this set.
var MediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".svg": true, ".tiff": true,
	".tif": true, ".heic": true, ".heif": true, ".avif": true,
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
	".mpeg": true, ".mpg": true, ".3gp": true, ".ts": true,
}

// Classify returns the MediaKind for a declared MIME type.
// Returns ErrUnsupportedType if the MIME type is not recognized.
func Classify(mimeType string) (MediaKind, error) {
	mt := normalizeMime(mimeType)
	if _, ok := AnimatedImageMimeTypes[mt]; ok {
		return KindAnimatedImage, nil
	}
	if _, ok := ImageMimeTypes[mt]; ok {
		return KindImage, nil
	}
	if _, ok := VideoMimeTypes[mt]; ok {
		return KindVideo, nil
	}
	return "", ErrUnsupportedType
}

// ExtensionFor returns the canonical storage extension for a MIME type.
// Returns ".bin" for unrecognized types; callers should have classified first.
func ExtensionFor(mimeType string) string {
	mt := normalizeMime(mimeType)
	if ext, ok := ImageMimeTypes[mt]; ok {
		return ext
	}
	if ext, ok := AnimatedImageMimeTypes[mt]; ok {
		return ext
	}
	if ext, ok := VideoMimeTypes[mt]; ok {
		return ext
	}
	return ".bin"
}

// IsManagedExtension reports whether ext (lowercase, with leading dot) is a
// media extension this pipeline manages.
func IsManagedExtension(ext string) bool {
	return MediaExtensions[strings.ToLower(ext)]
}

// normalizeMime lowercases a MIME type and strips parameters
// ("image/jpeg; charset=binary" → "image/jpeg").
func normalizeMime(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mt, ";"); idx != -1 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return mt
}

// ParseTagInput normalizes every accepted tag input shape into a flat,
// deduplicated list of tag names. Accepted shapes:
//
//   - a plain string: "a, b"
//   - a JSON array of strings: ["a", "b"]
//   - a JSON array of objects with a name field: [{"name": "a"}]
//   - a JSON string containing any of the above
//
// The ambiguity stops here; nothing downstream ever inspects the raw shape.
func ParseTagInput(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if strings.HasPrefix(raw, "[") {
		if tags := parseTagArray([]byte(raw)); tags != nil {
			return dedupeTags(tags)
		}
	}

	// A JSON-encoded string may itself wrap an array or a comma list.
	if strings.HasPrefix(raw, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(raw), &inner); err == nil && inner != raw {
			return ParseTagInput(inner)
		}
	}

	return dedupeTags(strings.Split(raw, ","))
}

func parseTagArray(data []byte) []string {
	var plain []string
	if err := json.Unmarshal(data, &plain); err == nil {
		return plain
	}

	var records []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &records); err == nil {
		tags := make([]string, 0, len(records))
		for _, r := range records {
			tags = append(tags, r.Name)
		}
		return tags
	}

	return nil
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
