package config

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. Development mode writes console
// output; production mode writes JSON.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if c.Production {
		zc = zap.NewProductionConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: log.level %q", ErrInvalidValue, c.Level)
		}
		zc.Level = level
	}
	return zc.Build()
}
