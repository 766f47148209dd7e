package services

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// MaxCaptionChars is the longest single subtitle cue, in characters.
	MaxCaptionChars = 40

	defaultSubtitleFont = "Noto Sans"
	subtitleFontSize    = 18
)

// Cue is one timed subtitle.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// ChunkCaption packs whole words into pieces of at most maxChars characters.
// Whitespace runs collapse to one space. Only a word longer than maxChars is
// cut, into maxChars-sized runs.
func ChunkCaption(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = MaxCaptionChars
	}

	var chunks []string
	var line []rune
	flush := func() {
		if len(line) > 0 {
			chunks = append(chunks, string(line))
			line = nil
		}
	}
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		switch {
		case len(w) > maxChars:
			flush()
			for len(w) > maxChars {
				chunks = append(chunks, string(w[:maxChars]))
				w = w[maxChars:]
			}
			line = w
		case len(line) == 0:
			line = w
		case len(line)+1+len(w) <= maxChars:
			line = append(append(line, ' '), w...)
		default:
			flush()
			line = w
		}
	}
	flush()
	return chunks
}

// BuildCues spreads the caption evenly across total. Cues are contiguous:
// each starts where the previous ended and the last ends at total.
func BuildCues(text string, total time.Duration, maxChars int) []Cue {
	chunks := ChunkCaption(text, maxChars)
	if len(chunks) == 0 || total <= 0 {
		return nil
	}

	// Work in whole milliseconds so boundaries print exactly.
	totalMs := total.Milliseconds()
	n := int64(len(chunks))
	cues := make([]Cue, len(chunks))
	for i, chunk := range chunks {
		start := totalMs * int64(i) / n
		end := totalMs * int64(i+1) / n
		cues[i] = Cue{
			Start: time.Duration(start) * time.Millisecond,
			End:   time.Duration(end) * time.Millisecond,
			Text:  chunk,
		}
	}
	return cues
}

// FormatSRT renders cues as an SRT document.
func FormatSRT(cues []Cue) string {
	var sb strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(c.Start), srtTimestamp(c.End), c.Text)
	}
	return sb.String()
}

// WriteSRT builds cues for text over total and writes them to path.
func WriteSRT(path, text string, total time.Duration) (int, error) {
	cues := BuildCues(text, total, MaxCaptionChars)
	if len(cues) == 0 {
		return 0, fmt.Errorf("no subtitle cues to write")
	}
	if err := os.WriteFile(path, []byte(FormatSRT(cues)), 0o644); err != nil {
		return 0, fmt.Errorf("failed to write subtitles: %w", err)
	}
	return len(cues), nil
}

// srtTimestamp formats d as HH:MM:SS,mmm.
func srtTimestamp(d time.Duration) string {
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms %= 3_600_000
	m := ms / 60_000
	ms %= 60_000
	s := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// subtitleFilter burns an SRT file in with the given font.
func subtitleFilter(srtPath, font string) string {
	if font == "" {
		font = defaultSubtitleFont
	}
	font = strings.NewReplacer("'", "", ",", "", ":", "").Replace(font)
	return fmt.Sprintf("subtitles='%s':force_style='FontName=%s,FontSize=%d,Outline=2,MarginV=40'",
		escapeFilterPath(srtPath), font, subtitleFontSize)
}
