package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Toolkit holds the resolved ffmpeg and ffprobe binaries.
type Toolkit struct {
	FFmpeg  string
	FFprobe string
}

// systemBinDirs are checked after the env override and the bundled copy.
var systemBinDirs = []string{"/usr/bin", "/usr/local/bin", "/opt/homebrew/bin"}

// ResolveToolkit finds working ffmpeg and ffprobe binaries. Each is looked
// up in order: configured override, <exe dir>/bin, OS paths, then PATH. A
// candidate counts only if "<bin> -version" succeeds.
func ResolveToolkit(ctx context.Context, ffmpegPath, ffprobePath string) (*Toolkit, error) {
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}

	ffmpeg, err := resolveBinary(ctx, "ffmpeg", ffmpegPath, exeDir)
	if err != nil {
		return nil, err
	}
	ffprobe, err := resolveBinary(ctx, "ffprobe", ffprobePath, exeDir)
	if err != nil {
		return nil, err
	}
	return &Toolkit{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
}

func binaryCandidates(name, override, exeDir string) []string {
	var candidates []string
	if override != "" {
		candidates = append(candidates, override)
	}
	if exeDir != "" {
		candidates = append(candidates, filepath.Join(exeDir, "bin", name))
	}
	for _, dir := range systemBinDirs {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	if p, err := exec.LookPath(name); err == nil {
		candidates = append(candidates, p)
	}
	return candidates
}

func resolveBinary(ctx context.Context, name, override, exeDir string) (string, error) {
	candidates := binaryCandidates(name, override, exeDir)
	for _, c := range candidates {
		if works(ctx, c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("no working %s binary found (tried %v)", name, candidates)
}

func works(ctx context.Context, bin string) bool {
	if _, err := os.Stat(bin); err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, bin, "-version").Run() == nil
}
