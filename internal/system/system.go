package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// InitResourceLimits raises RLIMIT_NOFILE; ffmpeg pipes and watch mode keep
// many descriptors open.
func InitResourceLimits(log *zap.Logger) {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Warn("не удалось получить лимит файлов", zap.Error(err))
		return
	}

	want := uint64(4096)
	if want > rLimit.Max {
		want = rLimit.Max
	}
	if rLimit.Cur >= want {
		return
	}
	rLimit.Cur = want

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Warn("не удалось установить лимит файлов", zap.Error(err))
		return
	}
	log.Debug("лимит открытых файлов увеличен", zap.Uint64("nofile", rLimit.Cur))
}

var (
	AudioExtensions  = []string{".mp3", ".wav", ".m4a", ".ogg", ".aac", ".flac"}
	ScriptExtensions = []string{".txt", ".md"}
	ImageExtensions  = []string{".png", ".jpg", ".jpeg", ".webp"}
	VideoExtensions  = []string{".mp4", ".mov", ".mkv", ".webm", ".avi", ".m4v"}
)

// HasExtension reports whether path ends with one of exts (case-insensitive).
func HasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// FindLatest returns the most recently modified file in dir with one of
// the given extensions.
func FindLatest(dir string, exts []string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !HasExtension(f.Name(), exts) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no %s files in %s", strings.Join(exts, "/"), dir)
	}
	return latestFile, nil
}

func FindLatestAudio(dir string) (string, error)  { return FindLatest(dir, AudioExtensions) }
func FindLatestScript(dir string) (string, error) { return FindLatest(dir, ScriptExtensions) }
