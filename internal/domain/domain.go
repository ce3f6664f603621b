package domain

// Scan interval bounds, in seconds.
const (
	MinScanInterval     = 60
	DefaultScanInterval = 300
)

// Section types offered for selection.
const (
	SectionMovie = "movie"
	SectionShow  = "show"
)

// ServerRef is a Plex server known to the host.
type ServerRef struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`

	// Token is only present when the host shares it; the panel never needs it.
	Token string `json:"token,omitempty"`
}

// Section is a Plex library section.
type Section struct {
	Key   ID     `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Selectable reports whether the section can be picked as a scan target.
func (s Section) Selectable() bool {
	return s.Type == SectionMovie || s.Type == SectionShow
}

// TypeLabel is the display name of a selectable section type.
func (s Section) TypeLabel() string {
	if s.Type == SectionMovie {
		return "电影"
	}
	return "剧集"
}

// PathMapping translates a local path prefix into the prefix Plex sees.
type PathMapping struct {
	LocalPath string `json:"local_path"`
	PlexPath  string `json:"plex_path"`
}

// Complete reports whether both sides are set.
func (m PathMapping) Complete() bool {
	return m.LocalPath != "" && m.PlexPath != ""
}

// Config is the persisted plugin configuration. It is always written whole.
type Config struct {
	PlexServerID   ID            `json:"plex_server_id"`
	PlexSectionID  ID            `json:"plex_section_id"`
	WatchDirectory string        `json:"watch_directory"`
	ScanInterval   int           `json:"scan_interval"`
	PathMappings   []PathMapping `json:"path_mappings"`
}

// Interval returns the scan interval, falling back to the default when unset.
func (c Config) Interval() int {
	if c.ScanInterval == 0 {
		return DefaultScanInterval
	}
	return c.ScanInterval
}
