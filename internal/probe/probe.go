// Package probe extracts technical metadata from uploaded media: codec,
// container, and dimensions for video via ffprobe, pixel dimensions for
// images via the standard decoders.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"media-pipeline/internal/logging"
)

// ErrProbeFailed wraps any failure to extract metadata from an upload. A
// probe failure is terminal for the upload; the caller records it and stops.
var ErrProbeFailed = errors.New("media probe failed")

const probeTimeout = 30 * time.Second

// VideoInfo describes a probed video stream.
type VideoInfo struct {
	Width      int
	Height     int
	DurationMs int64
	Codec      string
	Container  string
	BitrateBps int64
	// NeedsTransform is true when the codec or container falls outside the
	// directly playable set.
	NeedsTransform bool
}

// ImageInfo describes a probed still or animated image.
type ImageInfo struct {
	Width  int
	Height int
	Format string
}

// Codecs and containers modern players handle without transformation.
var compatibleCodecs = map[string]bool{
	"h264": true,
	"vp8":  true,
	"vp9":  true,
	"av1":  true,
}

var compatibleContainers = map[string]bool{
	"mp4":  true,
	"webm": true,
	"ogg":  true,
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// Video probes a video file on disk with ffprobe.
func Video(ctx context.Context, filePath string) (*VideoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v - %s", ErrProbeFailed, err, stderr.String())
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: unparseable ffprobe output: %v", ErrProbeFailed, err)
	}

	info := &VideoInfo{}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			info.Codec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	if info.Codec == "" {
		return nil, fmt.Errorf("%w: no video stream in %s", ErrProbeFailed, filepath.Base(filePath))
	}

	if out.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			info.DurationMs = int64(seconds * 1000)
		}
	}
	if out.Format.BitRate != "" {
		info.BitrateBps, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	}

	// format_name may be a comma list like "mov,mp4,m4a,3gp,3g2,mj2".
	info.Container = firstContainer(out.Format.FormatName)
	info.NeedsTransform = !compatibleCodecs[info.Codec] || !compatibleContainers[info.Container]

	logging.Debug("Probed %s: codec=%s %dx%d duration=%dms transform=%v",
		filepath.Base(filePath), info.Codec, info.Width, info.Height, info.DurationMs, info.NeedsTransform)
	return info, nil
}

// VideoBytes probes an in-memory upload by spooling it to a temp file, since
// ffprobe needs a seekable input.
func VideoBytes(ctx context.Context, data []byte, ext string) (*VideoInfo, error) {
	tmp, err := os.CreateTemp("", "probe-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("%w: temp file: %v", ErrProbeFailed, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("%w: temp write: %v", ErrProbeFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: temp close: %v", ErrProbeFailed, err)
	}

	return Video(ctx, tmp.Name())
}

// Image probes pixel dimensions without decoding the full image.
func Image(r io.Reader) (*ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	return &ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

func firstContainer(formatName string) string {
	names := strings.Split(formatName, ",")
	// Prefer a directly playable name when the muxer reports several.
	for _, n := range names {
		if compatibleContainers[strings.TrimSpace(n)] {
			return strings.TrimSpace(n)
		}
	}
	if len(names) > 0 {
		return strings.TrimSpace(names[0])
	}
	return ""
}
