package services

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

var srtRange = regexp.MustCompile(`^\d{2}:\d{2}:\d{2},\d{3} --> \d{2}:\d{2}:\d{2},\d{3}$`)

func TestCaptionOf280CharsYieldsSevenCues(t *testing.T) {
	// Six 39-character lines and a final 40-character one, space separated.
	text := strings.Repeat("Sunlit open kitchen with quartz counter ", 6) + "Sunlit open kitchen with quartz counters"
	if len([]rune(text)) != 280 {
		t.Fatalf("fixture should be 280 characters, got %d", len(text))
	}

	total := 21 * time.Second
	cues := BuildCues(text, total, MaxCaptionChars)
	if len(cues) != 7 {
		t.Fatalf("expected 7 cues, got %d", len(cues))
	}

	if cues[0].Start != 0 {
		t.Errorf("first cue starts at %v", cues[0].Start)
	}
	if cues[len(cues)-1].End != total {
		t.Errorf("last cue ends at %v, want %v", cues[len(cues)-1].End, total)
	}
	for i, c := range cues {
		if len([]rune(c.Text)) > MaxCaptionChars {
			t.Errorf("cue %d is %d characters", i, len([]rune(c.Text)))
		}
		if !strings.HasPrefix(c.Text, "Sunlit ") || !strings.HasSuffix(strings.TrimSuffix(c.Text, "s"), " counter") {
			t.Errorf("cue %d breaks a word: %q", i, c.Text)
		}
		if c.End <= c.Start {
			t.Errorf("cue %d is empty: %v-%v", i, c.Start, c.End)
		}
		if i > 0 && c.Start < cues[i-1].End {
			t.Errorf("cue %d overlaps the previous one", i)
		}
	}

	lines := strings.Split(FormatSRT(cues), "\n")
	var ranges int
	for _, line := range lines {
		if strings.Contains(line, "-->") {
			if !srtRange.MatchString(line) {
				t.Errorf("bad timestamp line %q", line)
			}
			ranges++
		}
	}
	if ranges != 7 {
		t.Errorf("expected 7 timestamp ranges, got %d", ranges)
	}
}

func TestSRTTimestamp(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00,000"},
		{1500 * time.Millisecond, "00:00:01,500"},
		{time.Hour + 2*time.Minute + 3*time.Second + 45*time.Millisecond, "01:02:03,045"},
	}
	for _, tc := range cases {
		if got := srtTimestamp(tc.d); got != tc.want {
			t.Errorf("srtTimestamp(%v) = %s, want %s", tc.d, got, tc.want)
		}
	}
}

func TestChunkCaptionCollapsesWhitespace(t *testing.T) {
	chunks := ChunkCaption("  Welcome   home\n\tto the lake  ", 40)
	if len(chunks) != 1 || chunks[0] != "Welcome home to the lake" {
		t.Errorf("unexpected chunks %q", chunks)
	}
	if ChunkCaption("   ", 40) != nil {
		t.Error("blank caption should produce no chunks")
	}
}

func TestChunkCaptionKeepsWordsWhole(t *testing.T) {
	chunks := ChunkCaption("Three bedrooms with a view of the bay and a private dock", 20)
	want := []string{"Three bedrooms with", "a view of the bay", "and a private dock"}
	if strings.Join(chunks, "|") != strings.Join(want, "|") {
		t.Errorf("unexpected chunks %q", chunks)
	}
}

func TestChunkCaptionHardSplitsLongWords(t *testing.T) {
	long := strings.Repeat("x", 90)
	chunks := ChunkCaption("Pool "+long+" deck", 40)
	want := []string{"Pool", strings.Repeat("x", 40), strings.Repeat("x", 40), "xxxxxxxxxx deck"}
	if strings.Join(chunks, "|") != strings.Join(want, "|") {
		t.Errorf("unexpected chunks %q", chunks)
	}
}

func TestChunkCaptionCountsRunes(t *testing.T) {
	chunks := ChunkCaption(strings.Repeat("é", 80), 40)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks for 80 runes, got %d", len(chunks))
	}
}

func TestWriteSRT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captions.srt")
	n, err := WriteSRT(path, "Three bedrooms with a view of the bay", 6*time.Second)
	if err != nil {
		t.Fatalf("WriteSRT failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cue, got %d", n)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "1\n00:00:00,000 --> 00:00:06,000\n") {
		t.Errorf("unexpected srt:\n%s", data)
	}
}

func TestSubtitleFilterEscapesPathAndFont(t *testing.T) {
	f := subtitleFilter("/tmp/a:b/captions.srt", "Open Sans, Bold")
	if !strings.Contains(f, `subtitles='/tmp/a\:b/captions.srt'`) {
		t.Errorf("path not escaped: %s", f)
	}
	if !strings.Contains(f, "FontName=Open Sans Bold") {
		t.Errorf("font not sanitized: %s", f)
	}
}
