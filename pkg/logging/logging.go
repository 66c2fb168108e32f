package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the process logger. Local environments get the development
// console encoder; everything else logs production JSON.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "local", "test":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
