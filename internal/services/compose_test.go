package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bobarin/listingreel/internal/apperr"
	"github.com/bobarin/listingreel/internal/models"
	"github.com/bobarin/listingreel/internal/storage"
)

const memStorageBase = "https://storage.example.com/"

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte), meta: make(map[string]map[string]string)}
}

func (m *memStorage) Upload(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.meta[key] = meta
	return m.PublicURL(key), nil
}

func (m *memStorage) Download(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (m *memStorage) PublicURL(key string) string {
	return memStorageBase + key
}

func (m *memStorage) KeyFromURL(rawURL string) (string, bool) {
	return strings.CutPrefix(rawURL, memStorageBase)
}

const (
	// fakeFFmpeg writes a placeholder to the output path, always the last argument.
	fakeFFmpeg  = "#!/bin/sh\nfor a in \"$@\"; do out=\"$a\"; done\nprintf media > \"$out\"\n"
	brokenTool  = "#!/bin/sh\necho 'encoder exploded' >&2\nexit 1\n"
	fakeFFprobe = "#!/bin/sh\necho '{\"streams\":[{\"codec_type\":\"video\",\"width\":1080,\"height\":1920}],\"format\":{\"duration\":\"10.2\",\"size\":\"5\"}}'\n"
)

// newStubEngine returns a media engine running shell scripts in place of
// ffmpeg and ffprobe, and its temp directory.
func newStubEngine(t *testing.T, ffmpegScript string) (*MediaEngine, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stubs need a POSIX shell")
	}
	bin := t.TempDir()
	tk := &Toolkit{FFmpeg: filepath.Join(bin, "ffmpeg"), FFprobe: filepath.Join(bin, "ffprobe")}
	if err := os.WriteFile(tk.FFmpeg, []byte(ffmpegScript), 0o755); err != nil {
		t.Fatalf("failed to write fake ffmpeg: %v", err)
	}
	if err := os.WriteFile(tk.FFprobe, []byte(fakeFFprobe), 0o755); err != nil {
		t.Fatalf("failed to write fake ffprobe: %v", err)
	}

	tempDir := t.TempDir()
	e, err := NewMediaEngine(tk, tempDir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewMediaEngine failed: %v", err)
	}
	return e, tempDir
}

func clipServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("raw clip " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace not cleaned up, found %d entries", len(entries))
	}
}

func TestComposeUploadsUnderFinalKey(t *testing.T) {
	media, tempDir := newStubEngine(t, fakeFFmpeg)
	stor := newMemStorage()
	srv := clipServer(t)

	scope := storage.Scope{OwnerID: "owner-1", ListingID: "listing-1", BatchID: uuid.New()}
	stored, _ := stor.Upload(context.Background(), scope.JobKey(uuid.New(), "clip.mp4"), []byte("stored clip"), "video/mp4", nil)
	name := "12 Oak Street"

	c := NewComposer(media, stor, zerolog.Nop())
	res, err := c.Compose(context.Background(), CompositionInput{
		ClipURLs:    []string{srv.URL + "/a.mp4", stored},
		Scope:       scope,
		DisplayName: &name,
	})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	if res.VideoURL != stor.PublicURL(scope.FinalKey("video.mp4")) || res.ThumbnailURL != stor.PublicURL(scope.FinalKey("thumbnail.jpg")) {
		t.Errorf("unexpected result urls %s %s", res.VideoURL, res.ThumbnailURL)
	}
	if res.Duration != 10 || res.FileSize != int64(len("media")) {
		t.Errorf("unexpected result metadata %+v", res)
	}
	meta := stor.meta[scope.FinalKey("video.mp4")]
	if meta[storage.MetaDisplayName] != name || meta[storage.MetaBatchID] != scope.BatchID.String() {
		t.Errorf("unexpected upload metadata %v", meta)
	}
	assertEmptyDir(t, tempDir)
}

func TestComposeFailureIsCompositionErrorAndCleansUp(t *testing.T) {
	media, tempDir := newStubEngine(t, brokenTool)
	stor := newMemStorage()
	srv := clipServer(t)

	c := NewComposer(media, stor, zerolog.Nop())
	_, err := c.Compose(context.Background(), CompositionInput{
		ClipURLs: []string{srv.URL + "/a.mp4", srv.URL + "/b.mp4"},
		Scope:    storage.Scope{OwnerID: "o", ListingID: "l", BatchID: uuid.New()},
	})
	if !apperr.IsKind(err, apperr.KindComposition) {
		t.Fatalf("expected composition error, got %v", err)
	}
	if !strings.Contains(err.Error(), "encoder exploded") {
		t.Errorf("ffmpeg stderr should be carried in the error: %v", err)
	}
	if len(stor.objects) != 0 {
		t.Errorf("nothing should be uploaded, got %d objects", len(stor.objects))
	}
	assertEmptyDir(t, tempDir)
}

func TestComposeMissingStoredClipFails(t *testing.T) {
	media, tempDir := newStubEngine(t, fakeFFmpeg)
	stor := newMemStorage()

	c := NewComposer(media, stor, zerolog.Nop())
	_, err := c.Compose(context.Background(), CompositionInput{
		ClipURLs: []string{memStorageBase + "o/l/gone.mp4"},
		Scope:    storage.Scope{OwnerID: "o", ListingID: "l", BatchID: uuid.New()},
	})
	if !apperr.IsKind(err, apperr.KindComposition) {
		t.Fatalf("expected composition error, got %v", err)
	}
	assertEmptyDir(t, tempDir)
}

func TestProcessRawCleansUp(t *testing.T) {
	media, tempDir := newStubEngine(t, fakeFFmpeg)

	clip, err := media.ProcessRaw(context.Background(), []byte("raw"), "9:16")
	if err != nil {
		t.Fatalf("ProcessRaw failed: %v", err)
	}
	if string(clip.Video) != "media" || clip.Metadata.DurationSeconds != 10 || clip.Metadata.AspectRatio != "9:16" {
		t.Errorf("unexpected clip %+v", clip.Metadata)
	}
	assertEmptyDir(t, tempDir)

	if _, err := media.ProcessRaw(context.Background(), nil, "9:16"); !apperr.IsKind(err, apperr.KindDownload) {
		t.Errorf("expected download error for an empty clip, got %v", err)
	}
}

func TestXfadeGraphOffsets(t *testing.T) {
	graph, label := xfadeGraph([]float64{5, 5, 4}, 0.5)

	if label != "[x2]" {
		t.Errorf("unexpected output label %s", label)
	}
	if !strings.Contains(graph, "[s0][s1]xfade=transition=fade:duration=0.500:offset=4.500[x1]") {
		t.Errorf("first fade wrong: %s", graph)
	}
	if !strings.Contains(graph, "[x1][s2]xfade=transition=fade:duration=0.500:offset=9.000[x2]") {
		t.Errorf("second fade wrong: %s", graph)
	}
	if strings.Count(graph, "setpts=PTS-STARTPTS") != 3 {
		t.Errorf("every input should be reset: %s", graph)
	}
}

func TestDecorateGraph(t *testing.T) {
	graph, label := decorateGraph(true, models.LogoTopRight, "subtitles='x.srt'")
	if label != "[vsub]" {
		t.Errorf("unexpected label %s", label)
	}
	if !strings.Contains(graph, "overlay=W-w-24:24[vlogo]") {
		t.Errorf("logo not pinned top-right: %s", graph)
	}
	if !strings.Contains(graph, "[vlogo]subtitles='x.srt'[vsub]") {
		t.Errorf("subtitles should follow the logo: %s", graph)
	}

	graph, label = decorateGraph(false, "", "subtitles='x.srt'")
	if graph != "[0:v]subtitles='x.srt'[vsub]" || label != "[vsub]" {
		t.Errorf("unexpected subtitle-only graph %s %s", graph, label)
	}
}

func TestOverlayPositions(t *testing.T) {
	cases := map[models.LogoPosition]string{
		models.LogoTopLeft:     "24:24",
		models.LogoTopRight:    "W-w-24:24",
		models.LogoBottomLeft:  "24:H-h-24",
		models.LogoBottomRight: "W-w-24:H-h-24",
	}
	for pos, want := range cases {
		if got := overlayPosition(pos); got != want {
			t.Errorf("overlayPosition(%s) = %s, want %s", pos, got, want)
		}
	}
}

func TestLogoExt(t *testing.T) {
	if logoExt("https://cdn.example.com/brand/logo.JPG?v=2") != ".jpg" {
		t.Error("expected .jpg")
	}
	if logoExt("https://cdn.example.com/brand/logo") != ".png" {
		t.Error("expected .png fallback")
	}
}
