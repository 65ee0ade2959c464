package importer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// invalidPathChars are stripped from titles before they become
// directory or file names.
var invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*]`)

func sanitizeName(name string) string {
	cleaned := invalidPathChars.ReplaceAllString(name, "")
	return strings.TrimSpace(strings.Join(strings.Fields(cleaned), " "))
}

// MoviePath builds the canonical movie destination:
// <library>/<Title> (<Year>)/<Title> (<Year>).<ext>
func MoviePath(library, title string, year int, ext string) string {
	folder := fmt.Sprintf("%s (%d)", sanitizeName(title), year)
	return filepath.Join(library, folder, folder+normalizeExt(ext))
}

// MovieExtrasDir is where approved extras for a movie land.
func MovieExtrasDir(library, title string, year int) string {
	folder := fmt.Sprintf("%s (%d)", sanitizeName(title), year)
	return filepath.Join(library, folder, "Extras")
}

// EpisodePath builds the canonical episode destination:
// <library>/<Show> (<Year>)/Season <NN>/<Show> - S<NN>E<NN>.<ext>
// An unknown season normalizes to season 1.
func EpisodePath(library, show string, year, season, episode int, ext string) string {
	if season <= 0 {
		season = 1
	}
	showFolder := fmt.Sprintf("%s (%d)", sanitizeName(show), year)
	seasonFolder := fmt.Sprintf("Season %02d", season)
	file := fmt.Sprintf("%s - S%02dE%02d%s", sanitizeName(show), season, episode, normalizeExt(ext))
	return filepath.Join(library, showFolder, seasonFolder, file)
}

// SeasonDir returns the directory an episode path lives in.
func SeasonDir(library, show string, year, season int) string {
	if season <= 0 {
		season = 1
	}
	showFolder := fmt.Sprintf("%s (%d)", sanitizeName(show), year)
	return filepath.Join(library, showFolder, fmt.Sprintf("Season %02d", season))
}

// langSuffixPattern matches a trailing 2- or 3-letter language code on
// a subtitle file stem, e.g. "movie.en.srt" or "movie.eng.srt".
var langSuffixPattern = regexp.MustCompile(`\.([a-zA-Z]{2,3})$`)

// SubtitlePath places a subtitle beside the main video, keeping any
// language suffix from the source name:
// <video_stem>[.<lang>].<sub_ext>
func SubtitlePath(videoDest, subtitleSrc string) string {
	subExt := filepath.Ext(subtitleSrc)
	stem := strings.TrimSuffix(filepath.Base(subtitleSrc), subExt)

	videoStem := strings.TrimSuffix(videoDest, filepath.Ext(videoDest))
	if m := langSuffixPattern.FindStringSubmatch(stem); m != nil {
		return videoStem + "." + strings.ToLower(m[1]) + subExt
	}
	return videoStem + subExt
}

func normalizeExt(ext string) string {
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.ToLower(ext)
}
