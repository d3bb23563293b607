package discovery

import (
	"sort"
	"strings"
)

const (
	txtVersion = "version"
	txtRun     = "run"
)

// Info is what a harness publishes about itself in its TXT record.
type Info struct {
	Version string
	RunID   string
}

// EncodeTXT renders info as sorted key=value TXT strings. Empty values are
// left out.
func EncodeTXT(info Info) []string {
	recs := map[string]string{
		txtVersion: info.Version,
		txtRun:     info.RunID,
	}
	out := make([]string, 0, len(recs))
	for k, v := range recs {
		if v == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// DecodeTXT parses TXT strings published by EncodeTXT. Unknown keys and
// malformed entries are ignored.
func DecodeTXT(txt []string) Info {
	var info Info
	for _, s := range txt {
		k, v, ok := strings.Cut(s, "=")
		if !ok {
			continue
		}
		switch k {
		case txtVersion:
			info.Version = v
		case txtRun:
			info.RunID = v
		}
	}
	return info
}
