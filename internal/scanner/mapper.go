package scanner

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/gaby/plexscanner/internal/domain"
)

type rule struct {
	local string
	plex  string
}

// Mapper rewrites local paths into the paths the Plex server sees.
type Mapper struct {
	rules []rule
}

// NewMapper keeps the order of ms; pairs missing either side are dropped.
func NewMapper(ms []domain.PathMapping) *Mapper {
	m := &Mapper{}
	for _, pm := range ms {
		if !pm.Complete() {
			continue
		}
		m.rules = append(m.rules, rule{local: norm.NFC.String(pm.LocalPath), plex: norm.NFC.String(pm.PlexPath)})
	}
	return m
}

// Map returns the Plex path for p and whether a rule matched. The first rule whose
// local prefix covers p wins and only that prefix is replaced. Unmatched paths come
// back unchanged.
func (m *Mapper) Map(p string) (string, bool) {
	np := norm.NFC.String(p)
	for _, r := range m.rules {
		rest, ok := cutPrefix(np, r.local)
		if !ok {
			continue
		}
		base := strings.TrimRight(r.plex, "/")
		if base+rest == "" {
			return "/", true
		}
		return base + rest, true
	}
	return p, false
}

// cutPrefix matches prefix on path-segment boundaries, so "/data/tv" does not
// cover "/data/tv2". The returned rest is empty or starts with "/".
func cutPrefix(p, prefix string) (string, bool) {
	if strings.HasSuffix(prefix, "/") {
		if p+"/" == prefix {
			return "", true
		}
		if strings.HasPrefix(p, prefix) {
			return "/" + p[len(prefix):], true
		}
		return "", false
	}
	if !strings.HasPrefix(p, prefix) {
		return "", false
	}
	rest := p[len(prefix):]
	if rest != "" && rest[0] != '/' {
		return "", false
	}
	return rest, true
}
