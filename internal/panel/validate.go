package panel

import (
	"math"
	"strconv"
	"strings"

	"github.com/gaby/plexscanner/internal/domain"
)

// Warning texts shown when a save is refused.
const (
	MsgSelectServer     = "请选择Plex服务器"
	MsgSelectSection    = "请选择媒体库"
	MsgSetWatchDir      = "请设置监控目录"
	MsgIntervalTooSmall = "扫描间隔不能小于60秒"
)

// ValidationError is a save refused before any request was sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }

// BuildConfig turns the form into the Config to persist. Checks run in a
// fixed order and the first failure is returned.
func BuildConfig(f Form) (domain.Config, error) {
	cfg := domain.Config{
		PlexServerID:   domain.ID(f.ServerID),
		PlexSectionID:  domain.ID(f.SectionID),
		WatchDirectory: f.WatchDirectory,
		ScanInterval:   ParseInterval(f.ScanInterval),
		PathMappings:   []domain.PathMapping{},
	}
	for _, r := range f.Rows {
		m := domain.PathMapping{LocalPath: r.Local, PlexPath: r.Plex}
		if m.Complete() {
			cfg.PathMappings = append(cfg.PathMappings, m)
		}
	}

	switch {
	case cfg.PlexServerID == "":
		return cfg, &ValidationError{Field: "plex_server_id", Message: MsgSelectServer}
	case cfg.PlexSectionID == "":
		return cfg, &ValidationError{Field: "plex_section_id", Message: MsgSelectSection}
	case cfg.WatchDirectory == "":
		return cfg, &ValidationError{Field: "watch_directory", Message: MsgSetWatchDir}
	case cfg.ScanInterval < domain.MinScanInterval:
		return cfg, &ValidationError{Field: "scan_interval", Message: MsgIntervalTooSmall}
	}
	return cfg, nil
}

// ParseInterval reads the leading integer of the interval field ("120s" is
// 120, " 90" is 90). Empty or non-numeric text yields the default interval.
func ParseInterval(text string) int {
	s := strings.TrimLeft(text, " \t\r\n")
	if s == "" {
		return domain.DefaultScanInterval
	}
	sign := ""
	if s[0] == '+' || s[0] == '-' {
		sign, s = s[:1], s[1:]
	}
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	if n == 0 {
		return domain.DefaultScanInterval
	}
	v, err := strconv.Atoi(sign + s[:n])
	if err != nil {
		if sign == "-" {
			return math.MinInt
		}
		return math.MaxInt
	}
	return v
}
