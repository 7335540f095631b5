// Package logging configures the process-wide logrus logger: level,
// formatter, secret scrubbing and optional shipping to Cloud Logging.
package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/andywolf/issue-assistant/internal/security"
)

// Configure applies level and format ("text" or "json") to logger and
// installs a hook that scrubs credentials from every entry.
func Configure(logger *logrus.Logger, level, format string, scrubber *security.Scrubber) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}

	if scrubber != nil {
		logger.AddHook(&ScrubHook{scrubber: scrubber})
	}
	return nil
}

// ScrubHook rewrites the message and string fields of each entry before
// any formatter or later hook sees them.
type ScrubHook struct {
	scrubber *security.Scrubber
}

// NewScrubHook returns a hook backed by scrubber.
func NewScrubHook(scrubber *security.Scrubber) *ScrubHook {
	return &ScrubHook{scrubber: scrubber}
}

func (h *ScrubHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *ScrubHook) Fire(entry *logrus.Entry) error {
	entry.Message = h.scrubber.Scrub(entry.Message)
	for k, v := range entry.Data {
		switch val := v.(type) {
		case string:
			entry.Data[k] = h.scrubber.Scrub(val)
		case error:
			entry.Data[k] = h.scrubber.Scrub(val.Error())
		}
	}
	return nil
}
