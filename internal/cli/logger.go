package cli

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process logger. Verbose mode, or a debug level in
// config.yaml, selects the human-readable development encoder. Logs always
// go to stderr so stdout stays parseable JSON.
func newLogger(level string, verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	if verbose || level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		lvl := zapcore.WarnLevel
		if level != "" {
			parsed, err := zapcore.ParseLevel(level)
			if err != nil {
				return nil, err
			}
			lvl = parsed
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
