package logging

import (
	"fmt"
	"os"
	"strings"
)

// EnvVar holds comma-separated "tag=level" directives. A directive without
// "tag=" sets the default level, e.g. LOGLEVEL=info,rtp=debug,delivery=5.
const EnvVar = "LOGLEVEL"

type tagLevel struct {
	tag   string
	level Level
}

var tagLevels []tagLevel

func init() {
	Configure(os.Getenv(EnvVar))
}

// Configure replaces the level directives. It applies to loggers derived from
// DefaultLogger by WithTag, including existing ones.
func Configure(directives string) {
	tagLevels = nil
	defaultLevel = Info
	for _, d := range strings.Split(directives, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := parseLevel(v[len(v)-1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid %s directive '%s': %s\n", EnvVar, d, err)
			continue
		}
		if len(v) == 1 {
			defaultLevel = level
		} else {
			tagLevels = append(tagLevels, tagLevel{v[0], level})
		}
	}

	DefaultLogger.Level = defaultLevel

	tagged.Lock()
	for _, l := range tagged.loggers {
		l.Level = determineLevel(l.Tag, defaultLevel)
	}
	tagged.Unlock()
}

func determineLevel(tag string, fallback Level) Level {
	for _, e := range tagLevels {
		if e.tag == tag {
			return e.level
		}
	}
	return fallback
}
