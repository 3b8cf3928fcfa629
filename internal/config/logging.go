package config

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Apply configures log with the level and format settings.
func (c LoggingConfig) Apply(log *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return invalid("logging.level", c.Level, "unknown level %q", c.Level)
	}
	log.SetLevel(level)

	if strings.EqualFold(c.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
