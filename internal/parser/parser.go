package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	seasonEpisodePattern = regexp.MustCompile(`(?i)\bS(\d{1,2})[\. ]?E(\d{1,3})(?:[\-E]+(\d{1,3}))?\b`)
	crossPattern         = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)
	verbosePattern       = regexp.MustCompile(`(?i)\bSeries[\.\s](\d{1,2})[\.\s]Episode[\.\s](\d{1,3})\b`)
	seasonPackPattern    = regexp.MustCompile(`(?i)\b(?:Season[\.\s](\d{1,2})|S(\d{1,2}))(?:[\.\s]|$)`)
	yearPattern          = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

	resolutionPatterns = []struct {
		res     Resolution
		pattern *regexp.Regexp
	}{
		{Resolution2160p, regexp.MustCompile(`(?i)\b(2160p|4k|uhd)\b`)},
		{Resolution1080p, regexp.MustCompile(`(?i)\b1080[pi]\b`)},
		{Resolution720p, regexp.MustCompile(`(?i)\b720p\b`)},
		{Resolution480p, regexp.MustCompile(`(?i)\b480p\b`)},
	}

	// Ordered by priority: a remux is also tagged BluRay, so REMUX wins.
	sourcePatterns = []struct {
		src     Source
		pattern *regexp.Regexp
	}{
		{SourceRemux, regexp.MustCompile(`(?i)\bremux\b`)},
		{SourceBluray, regexp.MustCompile(`(?i)\b(blu[\-\.]?ray|bdrip|brrip)\b`)},
		{SourceWebDL, regexp.MustCompile(`(?i)\bweb[\-\.]?dl\b`)},
		{SourceWebRip, regexp.MustCompile(`(?i)\bweb[\-\.]?rip\b`)},
		{SourceHDTV, regexp.MustCompile(`(?i)\bhdtv\b`)},
		{SourceDVD, regexp.MustCompile(`(?i)\b(dvd|dvdrip)\b`)},
		{SourceTelesync, regexp.MustCompile(`(?i)\b(ts|telesync)\b`)},
		{SourceCam, regexp.MustCompile(`(?i)\b(cam|camrip|hdcam)\b`)},
	}

	hdrPatterns = []struct {
		hdr     HDR
		pattern *regexp.Regexp
	}{
		{HDRDolbyVision, regexp.MustCompile(`(?i)\b(dv|dovi|dolby[\.\s]?vision)\b`)},
		{HDR10Plus, regexp.MustCompile(`(?i)\bhdr10\+\b`)},
		{HDR10, regexp.MustCompile(`(?i)\b(hdr10|hdr)\b`)},
	}

	codecPatterns = []struct {
		codec   string
		pattern *regexp.Regexp
	}{
		{"x265", regexp.MustCompile(`(?i)\b(x265|h\.?265|hevc)\b`)},
		{"x264", regexp.MustCompile(`(?i)\b(x264|h\.?264|avc)\b`)},
		{"av1", regexp.MustCompile(`(?i)\bav1\b`)},
		{"xvid", regexp.MustCompile(`(?i)\b(xvid|divx)\b`)},
	}

	// Ordered so longer tags match before their prefixes (DTS-HD before DTS).
	audioPatterns = []struct {
		audio   string
		pattern *regexp.Regexp
	}{
		{"truehd", regexp.MustCompile(`(?i)\btrue[\-\.]?hd\b`)},
		{"dtshd", regexp.MustCompile(`(?i)\bdts[\-\.]?hd(?:[\-\.]?ma)?\b`)},
		{"atmos", regexp.MustCompile(`(?i)\batmos\b`)},
		{"dts", regexp.MustCompile(`(?i)\bdts\b`)},
		// DDP5.1 style tags run straight into the channel digits, so the
		// dd[p+] alternative carries no trailing boundary.
		{"eac3", regexp.MustCompile(`(?i)\b(dd[p+]|e[\-\.]?ac[\-\.]?3\b)`)},
		{"ac3", regexp.MustCompile(`(?i)\b(dd|ac[\-\.]?3)\b`)},
		{"aac", regexp.MustCompile(`(?i)\baac\b`)},
		{"flac", regexp.MustCompile(`(?i)\bflac\b`)},
		{"mp3", regexp.MustCompile(`(?i)\bmp3\b`)},
	}

	editionPatterns = []struct {
		edition string
		pattern *regexp.Regexp
	}{
		{"extended", regexp.MustCompile(`(?i)\bextended\b`)},
		{"directors_cut", regexp.MustCompile(`(?i)\bdirector'?s?[\.\s]?cut\b`)},
		{"unrated", regexp.MustCompile(`(?i)\bunrated\b`)},
		{"theatrical", regexp.MustCompile(`(?i)\btheatrical\b`)},
		{"remastered", regexp.MustCompile(`(?i)\bremaster(?:ed)?\b`)},
		{"imax", regexp.MustCompile(`(?i)\bimax\b`)},
	}

	properPattern = regexp.MustCompile(`(?i)\bproper\b`)
	repackPattern = regexp.MustCompile(`(?i)\b(repack|rerip)\b`)

	// Release group trails the final hyphen, optionally followed by a container
	// extension (Title.2024.1080p-GROUP.mkv).
	releaseGroupPattern = regexp.MustCompile(`-([A-Za-z0-9]+)(?:\.[A-Za-z0-9]{2,4})?$`)

	containerExtensions = map[string]bool{
		"mkv": true, "mp4": true, "avi": true, "mov": true, "wmv": true,
		"m4v": true, "webm": true, "ts": true, "m2ts": true, "flv": true,
	}
)

// Parse extracts release attributes from a title string. It is deterministic
// and side-effect free; attributes that cannot be recognized keep their
// neutral zero values.
func Parse(title string) ParsedRelease {
	p := ParsedRelease{}

	parseEpisodeNumbering(title, &p)
	parseYear(title, &p)

	for _, rp := range resolutionPatterns {
		if rp.pattern.MatchString(title) {
			p.Resolution = rp.res
			break
		}
	}

	for _, sp := range sourcePatterns {
		if sp.pattern.MatchString(title) {
			p.Source = sp.src
			break
		}
	}

	for _, hp := range hdrPatterns {
		if hp.pattern.MatchString(title) {
			p.HDR = hp.hdr
			break
		}
	}

	for _, cp := range codecPatterns {
		if cp.pattern.MatchString(title) {
			p.Codec = cp.codec
			break
		}
	}

	for _, ap := range audioPatterns {
		if ap.pattern.MatchString(title) {
			p.AudioFormat = ap.audio
			break
		}
	}

	for _, ep := range editionPatterns {
		if ep.pattern.MatchString(title) {
			p.Edition = ep.edition
			break
		}
	}

	p.IsProper = properPattern.MatchString(title)
	p.IsRepack = repackPattern.MatchString(title)

	if m := releaseGroupPattern.FindStringSubmatch(title); len(m) > 1 {
		group := m[1]
		if !containerExtensions[strings.ToLower(group)] {
			p.ReleaseGroup = group
		}
	}

	p.Title = extractTitle(title, &p)

	return p
}

// parseEpisodeNumbering recognizes SxxEyy, xxXyy, "Series xx Episode yy"
// and bare "Season xx" / "Sxx" season packs. Multi-episode ranges record
// the lowest episode plus EndEpisode.
func parseEpisodeNumbering(title string, p *ParsedRelease) {
	if m := seasonEpisodePattern.FindStringSubmatch(title); len(m) > 2 {
		p.Season = atoi(m[1])
		p.Episode = atoi(m[2])
		if len(m) > 3 && m[3] != "" {
			end := atoi(m[3])
			if end > p.Episode {
				p.EndEpisode = end
			}
		}
		return
	}

	if m := crossPattern.FindStringSubmatch(title); len(m) > 2 {
		p.Season = atoi(m[1])
		p.Episode = atoi(m[2])
		return
	}

	if m := verbosePattern.FindStringSubmatch(title); len(m) > 2 {
		p.Season = atoi(m[1])
		p.Episode = atoi(m[2])
		return
	}

	if m := seasonPackPattern.FindStringSubmatch(title); len(m) > 0 {
		if m[1] != "" {
			p.Season = atoi(m[1])
		} else {
			p.Season = atoi(m[2])
		}
		if p.Season > 0 {
			p.IsSeasonPack = true
		}
	}
}

// parseYear takes the first plausible 4-digit year not consumed by a
// season/episode marker. The window is 1900 through two years from now.
func parseYear(title string, p *ParsedRelease) {
	// Blank out episode markers so S.2023.E01-style false positives are
	// not treated as years.
	scrubbed := seasonEpisodePattern.ReplaceAllString(title, " ")

	maxYear := time.Now().Year() + 2
	for _, m := range yearPattern.FindAllString(scrubbed, -1) {
		year := atoi(m)
		if year >= 1900 && year <= maxYear {
			p.Year = year
			return
		}
	}
}

// extractTitle takes everything before the first recognized marker and
// normalizes separators.
func extractTitle(title string, p *ParsedRelease) string {
	cut := len(title)

	markers := make([]*regexp.Regexp, 0, 8)
	markers = append(markers, seasonEpisodePattern, crossPattern, verbosePattern)
	if p.IsSeasonPack {
		markers = append(markers, seasonPackPattern)
	}
	for _, rp := range resolutionPatterns {
		markers = append(markers, rp.pattern)
	}
	for _, sp := range sourcePatterns {
		markers = append(markers, sp.pattern)
	}
	for _, m := range markers {
		if loc := m.FindStringIndex(title); loc != nil && loc[0] > 0 && loc[0] < cut {
			cut = loc[0]
		}
	}

	if p.Year > 0 {
		yearStr := strconv.Itoa(p.Year)
		if idx := strings.Index(title, yearStr); idx > 0 && idx < cut {
			cut = idx
		}
	}

	if p.ReleaseGroup != "" {
		if loc := releaseGroupPattern.FindStringIndex(title); loc != nil && loc[0] > 0 && loc[0] < cut {
			cut = loc[0]
		}
	}

	t := title[:cut]
	t = strings.ReplaceAll(t, ".", " ")
	t = strings.ReplaceAll(t, "_", " ")
	t = strings.Trim(t, " -([")
	return strings.Join(strings.Fields(t), " ")
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimLeft(s, "0"))
	if s != "" && n == 0 && strings.Trim(s, "0") == "" {
		return 0
	}
	return n
}
