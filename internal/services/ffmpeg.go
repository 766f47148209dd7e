package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
)

// Output encoding shared by every normalized clip so the concat demuxer can
// join them without re-encoding.
const (
	videoFPS     = 30
	videoCRF     = "23"
	videoPreset  = "veryfast"
	pixelFormat  = "yuv420p"
	stderrTailSz = 2000
)

// frameSizes maps a target aspect ratio to the normalized output size.
var frameSizes = map[string][2]int{
	"9:16": {1080, 1920},
	"16:9": {1920, 1080},
	"1:1":  {1080, 1080},
}

// FrameSize returns the output width and height for an aspect ratio.
func FrameSize(aspectRatio string) (int, int, bool) {
	s, ok := frameSizes[aspectRatio]
	return s[0], s[1], ok
}

// ProbeResult is the subset of ffprobe output the pipeline uses.
type ProbeResult struct {
	DurationSeconds float64
	Width           int
	Height          int
	AspectRatio     string
	FileSize        int64
}

// RoundedDuration is the duration in whole seconds.
func (p ProbeResult) RoundedDuration() int {
	return int(math.Round(p.DurationSeconds))
}

// ProcessedClip is a normalized clip ready for upload.
type ProcessedClip struct {
	Video     []byte
	Thumbnail []byte
	Metadata  models.VideoMetadata
}

// MediaEngine runs per-clip ffmpeg work. Every call uses its own temp files.
type MediaEngine struct {
	tk       *Toolkit
	tempDir  string
	dlClient *http.Client
	log      zerolog.Logger
}

func NewMediaEngine(tk *Toolkit, tempDir string, logger zerolog.Logger) (*MediaEngine, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &MediaEngine{
		tk:       tk,
		tempDir:  tempDir,
		dlClient: &http.Client{Timeout: ClipDownloadTimeout},
		log:      logger.With().Str("component", "media").Logger(),
	}, nil
}

// Workspace creates a scoped temp directory. The caller removes it.
func (e *MediaEngine) Workspace(prefix string) (string, error) {
	dir, err := os.MkdirTemp(e.tempDir, prefix+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}
	return dir, nil
}

// Download saves url into dir and returns the local path.
func (e *MediaEngine) Download(ctx context.Context, url, dir, name string) (string, error) {
	data, err := fetchURL(ctx, e.dlClient, url)
	if err != nil {
		return "", err
	}
	return writeFile(dir, name, data)
}

// Normalize re-encodes input to the shared clip format, letterboxing to
// aspectRatio when one is given.
func (e *MediaEngine) Normalize(ctx context.Context, input, output, aspectRatio string) error {
	if err := e.runFFmpeg(ctx, normalizeArgs(input, output, aspectRatio)...); err != nil {
		return fmt.Errorf("ffmpeg normalize failed: %w", err)
	}
	return nil
}

func normalizeArgs(input, output, aspectRatio string) []string {
	vf := "scale=trunc(iw/2)*2:trunc(ih/2)*2"
	if w, h, ok := FrameSize(aspectRatio); ok {
		vf = fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1", w, h, w, h)
	}
	vf += fmt.Sprintf(",fps=%d,format=%s", videoFPS, pixelFormat)

	return []string{
		"-i", input,
		"-vf", vf,
		"-r", strconv.Itoa(videoFPS),
		"-c:v", "libx264",
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-pix_fmt", pixelFormat,
		"-movflags", "+faststart",
		"-an",
		"-y",
		output,
	}
}

// Thumbnail writes the first frame of input as a JPEG.
func (e *MediaEngine) Thumbnail(ctx context.Context, input, output string) error {
	if err := e.runFFmpeg(ctx, "-i", input, "-vframes", "1", "-q:v", "2", "-y", output); err != nil {
		return fmt.Errorf("ffmpeg thumbnail failed: %w", err)
	}
	return nil
}

// Probe reads duration and dimensions with ffprobe.
func (e *MediaEngine) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, e.tk.FFprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, tail(stderr.String()))
	}
	return parseProbe(stdout.Bytes())
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperr.Metadata(fmt.Sprintf("unreadable ffprobe output: %v", err))
	}

	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		duration := parseFloat(out.Format.Duration)
		if duration <= 0 {
			duration = parseFloat(s.Duration)
		}
		if duration <= 0 {
			return nil, apperr.Metadata("video has no duration")
		}
		size, _ := strconv.ParseInt(out.Format.Size, 10, 64)
		return &ProbeResult{
			DurationSeconds: duration,
			Width:           s.Width,
			Height:          s.Height,
			AspectRatio:     aspectString(s.Width, s.Height),
			FileSize:        size,
		}, nil
	}
	return nil, apperr.Metadata("no video stream found")
}

// ProcessRaw normalizes raw clip bytes, extracts a thumbnail and probes the
// result. The workspace is removed on every path.
func (e *MediaEngine) ProcessRaw(ctx context.Context, data []byte, aspectRatio string) (*ProcessedClip, error) {
	if len(data) == 0 {
		return nil, apperr.Download("raw clip is empty", nil)
	}
	dir, err := e.Workspace("clip")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	raw, err := writeFile(dir, "raw.mp4", data)
	if err != nil {
		return nil, err
	}

	normalized := filepath.Join(dir, "normalized.mp4")
	if err := e.Normalize(ctx, raw, normalized, aspectRatio); err != nil {
		return nil, err
	}

	thumb := filepath.Join(dir, "thumbnail.jpg")
	if err := e.Thumbnail(ctx, normalized, thumb); err != nil {
		return nil, err
	}

	probe, err := e.Probe(ctx, normalized)
	if err != nil {
		return nil, err
	}

	video, err := os.ReadFile(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to read normalized clip: %w", err)
	}
	thumbnail, err := os.ReadFile(thumb)
	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail: %w", err)
	}

	e.log.Debug().Float64("duration", probe.DurationSeconds).Int("bytes", len(video)).Msg("clip processed")

	return &ProcessedClip{
		Video:     video,
		Thumbnail: thumbnail,
		Metadata: models.VideoMetadata{
			DurationSeconds: probe.RoundedDuration(),
			FileSize:        int64(len(video)),
			Width:           probe.Width,
			Height:          probe.Height,
			AspectRatio:     probe.AspectRatio,
			Orientation:     string(orientationOf(probe.Width, probe.Height)),
		},
	}, nil
}

func (e *MediaEngine) runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.tk.FFmpeg, append([]string{"-hide_banner", "-loglevel", "error"}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, tail(stderr.String()))
	}
	return nil
}

func writeFile(dir, name string, data []byte) (string, error) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return p, nil
}

func aspectString(w, h int) string {
	if w <= 0 || h <= 0 {
		return ""
	}
	g := gcd(w, h)
	return fmt.Sprintf("%d:%d", w/g, h/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func orientationOf(w, h int) models.Orientation {
	switch {
	case w > h:
		return models.OrientationLandscape
	case w == h:
		return models.OrientationSquare
	default:
		return models.OrientationPortrait
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func tail(s string) string {
	if len(s) <= stderrTailSz {
		return s
	}
	return s[len(s)-stderrTailSz:]
}

// escapeFilterPath escapes a path for use inside an ffmpeg filter argument.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}
