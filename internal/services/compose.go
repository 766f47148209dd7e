package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/storage"
)

const (
	// TransitionSeconds is the cross-fade length between consecutive clips.
	TransitionSeconds = 0.5
	logoMargin        = 24
	logoWidth         = 180
	downloadLimit     = 4
)

// CompositionInput is everything needed to produce the final video.
type CompositionInput struct {
	ClipURLs    []string
	Settings    models.CompositionSettings
	Scope       storage.Scope
	DisplayName *string
}

// Composer stitches finished clips into one branded, captioned video. It
// only reads its inputs and returns a result; callers persist it.
type Composer struct {
	media   *MediaEngine
	storage storage.Backend
	log     zerolog.Logger
}

func NewComposer(media *MediaEngine, stor storage.Backend, logger zerolog.Logger) *Composer {
	return &Composer{
		media:   media,
		storage: stor,
		log:     logger.With().Str("component", "composer").Logger(),
	}
}

// Compose runs the whole composition in a scoped workspace that is removed
// on every path. Failures come back as composition errors.
func (c *Composer) Compose(ctx context.Context, in CompositionInput) (*models.ComposedVideoResult, error) {
	if len(in.ClipURLs) == 0 {
		return nil, apperr.Composition(fmt.Errorf("no clips to compose"))
	}

	dir, err := c.media.Workspace("compose")
	if err != nil {
		return nil, apperr.Composition(err)
	}
	defer os.RemoveAll(dir)

	result, err := c.compose(ctx, dir, in)
	if err != nil {
		c.log.Error().Err(err).Str("batch_id", in.Scope.BatchID.String()).Msg("composition failed")
		return nil, apperr.Composition(err)
	}
	return result, nil
}

func (c *Composer) compose(ctx context.Context, dir string, in CompositionInput) (*models.ComposedVideoResult, error) {
	log := c.log.With().Str("batch_id", in.Scope.BatchID.String()).Int("clips", len(in.ClipURLs)).Logger()

	clips := make([]string, len(in.ClipURLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadLimit)
	for i, u := range in.ClipURLs {
		g.Go(func() error {
			p, err := c.fetch(gctx, u, dir, fmt.Sprintf("clip_%03d.mp4", i))
			if err != nil {
				return fmt.Errorf("clip %d: %w", i, err)
			}
			clips[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var logoPath string
	if in.Settings.Logo != nil && in.Settings.Logo.URL != "" {
		p, err := c.fetch(ctx, in.Settings.Logo.URL, dir, "logo"+logoExt(in.Settings.Logo.URL))
		if err != nil {
			return nil, fmt.Errorf("logo: %w", err)
		}
		logoPath = p
	}

	stitched := filepath.Join(dir, "stitched.mp4")
	if in.Settings.Transitions && len(clips) > 1 {
		durations := make([]float64, len(clips))
		for i, clip := range clips {
			probe, err := c.media.Probe(ctx, clip)
			if err != nil {
				return nil, fmt.Errorf("probe clip %d: %w", i, err)
			}
			durations[i] = probe.DurationSeconds
		}
		if err := c.crossfade(ctx, clips, durations, stitched); err != nil {
			return nil, err
		}
	} else if err := c.concat(ctx, dir, clips, stitched); err != nil {
		return nil, err
	}

	final := stitched
	if logoPath != "" || in.Settings.SubtitlesEnabled() {
		decorated := filepath.Join(dir, "final.mp4")
		if err := c.decorate(ctx, dir, stitched, logoPath, in.Settings, decorated); err != nil {
			return nil, err
		}
		final = decorated
	}

	probe, err := c.media.Probe(ctx, final)
	if err != nil {
		return nil, fmt.Errorf("probe final video: %w", err)
	}

	thumbPath := filepath.Join(dir, "thumbnail.jpg")
	if err := c.media.Thumbnail(ctx, final, thumbPath); err != nil {
		return nil, err
	}

	video, err := os.ReadFile(final)
	if err != nil {
		return nil, fmt.Errorf("failed to read final video: %w", err)
	}
	thumb, err := os.ReadFile(thumbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail: %w", err)
	}

	meta := in.Scope.Metadata()
	if in.DisplayName != nil && *in.DisplayName != "" {
		meta[storage.MetaDisplayName] = *in.DisplayName
	}

	videoURL, err := c.storage.Upload(ctx, in.Scope.FinalKey("video.mp4"), video, "video/mp4", meta)
	if err != nil {
		return nil, fmt.Errorf("upload final video: %w", err)
	}
	thumbURL, err := c.storage.Upload(ctx, in.Scope.FinalKey("thumbnail.jpg"), thumb, "image/jpeg", meta)
	if err != nil {
		return nil, fmt.Errorf("upload thumbnail: %w", err)
	}

	log.Info().Float64("duration", probe.DurationSeconds).Int("bytes", len(video)).Msg("composition finished")

	return &models.ComposedVideoResult{
		VideoURL:     videoURL,
		ThumbnailURL: thumbURL,
		Duration:     probe.RoundedDuration(),
		FileSize:     int64(len(video)),
	}, nil
}

// fetch pulls a URL into dir, through storage when the URL is one of ours.
func (c *Composer) fetch(ctx context.Context, url, dir, name string) (string, error) {
	if _, ok := c.storage.KeyFromURL(url); ok {
		data, err := storage.Fetch(ctx, c.storage, url)
		if err != nil {
			return "", apperr.Download("storage download failed", err)
		}
		if len(data) == 0 {
			return "", apperr.Download("downloaded body is empty", nil)
		}
		return writeFile(dir, name, data)
	}
	return c.media.Download(ctx, url, dir, name)
}

func (c *Composer) concat(ctx context.Context, dir string, clips []string, output string) error {
	listPath := filepath.Join(dir, "concat_list.txt")
	var sb strings.Builder
	for _, p := range clips {
		fmt.Fprintf(&sb, "file '%s'\n", strings.ReplaceAll(p, "'", "'\\''"))
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	err := c.media.runFFmpeg(ctx,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		"-y",
		output,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}
	return nil
}

func (c *Composer) crossfade(ctx context.Context, clips []string, durations []float64, output string) error {
	args := make([]string, 0, len(clips)*2+16)
	for _, p := range clips {
		args = append(args, "-i", p)
	}
	graph, label := xfadeGraph(durations, TransitionSeconds)
	args = append(args,
		"-filter_complex", graph,
		"-map", label,
	)
	args = append(args, encodeArgs(output)...)

	if err := c.media.runFFmpeg(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg crossfade failed: %w", err)
	}
	return nil
}

// xfadeGraph chains a fade between each consecutive pair. Offsets are the
// running output length minus one fade per join.
func xfadeGraph(durations []float64, fade float64) (string, string) {
	var parts []string
	for i := range durations {
		parts = append(parts, fmt.Sprintf("[%d:v]setpts=PTS-STARTPTS,settb=AVTB[s%d]", i, i))
	}

	prev := "[s0]"
	offset := 0.0
	for i := 1; i < len(durations); i++ {
		offset += durations[i-1] - fade
		out := fmt.Sprintf("[x%d]", i)
		parts = append(parts, fmt.Sprintf("%s[s%d]xfade=transition=fade:duration=%.3f:offset=%.3f%s", prev, i, fade, offset, out))
		prev = out
	}
	return strings.Join(parts, ";"), prev
}

// decorate overlays the logo and burns subtitles in a single encode.
func (c *Composer) decorate(ctx context.Context, dir, input, logoPath string, settings models.CompositionSettings, output string) error {
	args := []string{"-i", input}
	if logoPath != "" {
		args = append(args, "-i", logoPath)
	}

	var subFilter string
	if settings.SubtitlesEnabled() {
		probe, err := c.media.Probe(ctx, input)
		if err != nil {
			return fmt.Errorf("probe for subtitles: %w", err)
		}
		srtPath := filepath.Join(dir, "captions.srt")
		total := time.Duration(probe.DurationSeconds * float64(time.Second))
		if _, err := WriteSRT(srtPath, settings.Subtitles.Text, total); err != nil {
			return err
		}
		subFilter = subtitleFilter(srtPath, settings.Subtitles.Font)
	}

	var position models.LogoPosition
	if settings.Logo != nil {
		position = settings.Logo.Position
	}
	graph, label := decorateGraph(logoPath != "", position, subFilter)
	args = append(args, "-filter_complex", graph, "-map", label)
	args = append(args, encodeArgs(output)...)

	if err := c.media.runFFmpeg(ctx, args...); err != nil {
		return fmt.Errorf("ffmpeg decorate failed: %w", err)
	}
	return nil
}

func decorateGraph(hasLogo bool, position models.LogoPosition, subFilter string) (string, string) {
	var parts []string
	current := "[0:v]"
	if hasLogo {
		parts = append(parts,
			fmt.Sprintf("[1:v]scale=%d:-1[logo]", logoWidth),
			fmt.Sprintf("%s[logo]overlay=%s[vlogo]", current, overlayPosition(position)),
		)
		current = "[vlogo]"
	}
	if subFilter != "" {
		parts = append(parts, fmt.Sprintf("%s%s[vsub]", current, subFilter))
		current = "[vsub]"
	}
	return strings.Join(parts, ";"), current
}

func overlayPosition(p models.LogoPosition) string {
	m := logoMargin
	switch p {
	case models.LogoTopLeft:
		return fmt.Sprintf("%d:%d", m, m)
	case models.LogoTopRight:
		return fmt.Sprintf("W-w-%d:%d", m, m)
	case models.LogoBottomLeft:
		return fmt.Sprintf("%d:H-h-%d", m, m)
	default:
		return fmt.Sprintf("W-w-%d:H-h-%d", m, m)
	}
}

func encodeArgs(output string) []string {
	return []string{
		"-r", fmt.Sprintf("%d", videoFPS),
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

func logoExt(url string) string {
	ext := strings.ToLower(filepath.Ext(strings.SplitN(url, "?", 2)[0]))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
		return ext
	default:
		return ".png"
	}
}
