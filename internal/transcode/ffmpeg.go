package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"media-pipeline/internal/database"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/storage"
)

// Rendition tiers by output width. Source video narrower than a tier skips
// that tier.
var tiers = []struct {
	name  string
	width int
}{
	{"small", 640},
	{"medium", 1280},
	{"large", 1920},
}

// FFmpegRunner transcodes with the system ffmpeg binary, reading the source
// from the object store and writing renditions back.
type FFmpegRunner struct {
	store   storage.ObjectStore
	workDir string
}

// NewFFmpegRunner creates a runner using workDir for scratch files.
func NewFFmpegRunner(store storage.ObjectStore, workDir string) *FFmpegRunner {
	return &FFmpegRunner{store: store, workDir: workDir}
}

// Transcode produces tiered renditions in the job's first target format,
// plus a poster thumbnail when requested.
func (r *FFmpegRunner) Transcode(ctx context.Context, job *database.TranscodeJob, media *database.MediaRecord) (database.TranscodeOutputs, error) {
	var out database.TranscodeOutputs

	key, ok := r.store.KeyFromURL(media.URL)
	if !ok {
		return out, fmt.Errorf("media URL %s is not managed by this store", media.URL)
	}

	scratch, err := os.MkdirTemp(r.workDir, "transcode-*")
	if err != nil {
		return out, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	source := filepath.Join(scratch, "source"+filepath.Ext(key))
	if err := r.download(ctx, key, source); err != nil {
		return out, err
	}

	format := "mp4"
	if len(job.TargetFormats) > 0 {
		format = job.TargetFormats[0]
	}

	for _, tier := range tiers {
		local := filepath.Join(scratch, tier.name+"."+format)
		if err := r.encode(ctx, source, local, format, tier.width); err != nil {
			return out, fmt.Errorf("%s rendition: %w", tier.name, err)
		}
		url, err := r.upload(ctx, local, renditionKey(key, tier.name, format), contentTypeFor(format))
		if err != nil {
			return out, fmt.Errorf("%s rendition: %w", tier.name, err)
		}
		switch tier.name {
		case "small":
			out.SmallURL = &url
		case "medium":
			out.MediumURL = &url
		case "large":
			out.LargeURL = &url
		}
	}

	if job.ExtractThumbnail {
		local := filepath.Join(scratch, "thumb.jpg")
		if err := r.extractThumbnail(ctx, source, local); err != nil {
			// A missing poster is not worth failing the whole job over.
			logging.Warn("Thumbnail extraction failed for job %s: %v", job.JobID, err)
		} else {
			url, err := r.upload(ctx, local, renditionKey(key, "thumb", "jpg"), "image/jpeg")
			if err != nil {
				logging.Warn("Thumbnail upload failed for job %s: %v", job.JobID, err)
			} else {
				out.ThumbnailURL = &url
			}
		}
	}

	out.Codec = codecFor(format)
	return out, nil
}

func (r *FFmpegRunner) download(ctx context.Context, key, dest string) error {
	rc, err := r.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to fetch source %s: %w", key, err)
	}
	defer rc.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create scratch file: %w", err)
	}
	defer f.Close()

	if _, err := f.ReadFrom(rc); err != nil {
		return fmt.Errorf("failed to spool source %s: %w", key, err)
	}
	return nil
}

func (r *FFmpegRunner) upload(ctx context.Context, local, key, contentType string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("failed to open rendition: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat rendition: %w", err)
	}
	return r.store.Put(ctx, key, f, info.Size(), contentType)
}

func (r *FFmpegRunner) encode(ctx context.Context, source, dest, format string, width int) error {
	args := []string{"-y", "-i", source,
		// Never upscale; preserve aspect ratio with even dimensions.
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", width),
	}
	switch format {
	case "webm":
		args = append(args, "-c:v", "libvpx-vp9", "-crf", "31", "-b:v", "0", "-c:a", "libopus")
	default:
		args = append(args, "-c:v", "libx264", "-preset", "fast", "-crf", "23",
			"-c:a", "aac", "-movflags", "+faststart")
	}
	args = append(args, dest)
	return r.ffmpeg(ctx, args)
}

func (r *FFmpegRunner) extractThumbnail(ctx context.Context, source, dest string) error {
	return r.ffmpeg(ctx, []string{"-y",
		"-ss", "00:00:01",
		"-i", source,
		"-vframes", "1",
		"-vf", "scale='min(640,iw)':-2",
		"-q:v", "3",
		dest,
	})
}

func (r *FFmpegRunner) ffmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg error: %w - %s", err, lastLines(stderr.String(), 3))
	}
	return nil
}

// renditionKey places derived objects beside the source with a suffix.
func renditionKey(sourceKey, suffix, ext string) string {
	base := strings.TrimSuffix(sourceKey, filepath.Ext(sourceKey))
	return base + "-" + suffix + "." + ext
}

func contentTypeFor(format string) string {
	switch format {
	case "webm":
		return "video/webm"
	case "ogg":
		return "video/ogg"
	default:
		return "video/mp4"
	}
}

func codecFor(format string) string {
	switch format {
	case "webm":
		return "vp9"
	default:
		return "h264"
	}
}

// lastLines trims ffmpeg's verbose stderr to the tail that actually names
// the failure.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
