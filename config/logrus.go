package config

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logrus.InfoLevel)
	logg.SetOutput(os.Stdout)
}

// ConfigureLogger applies level and output from settings. With LOG_FILE set, entries go to stdout
// and to a size-rotated monitor log.
func ConfigureLogger(s Settings) *logrus.Logger {
	if lvl, err := logrus.ParseLevel(s.LogLevel); err == nil {
		logg.SetLevel(lvl)
	} else {
		logg.WithFields(logrus.Fields{"field": "Logger", "level": s.LogLevel}).Warn("unknown LOG_LEVEL, keeping " + logg.GetLevel().String())
	}

	if s.LogFile == "" {
		logg.SetOutput(os.Stdout)
		return logg
	}
	logg.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   s.LogFile,
		MaxSize:    s.LogMaxSizeMB,
		MaxBackups: s.LogMaxBackups,
		Compress:   true,
	}))
	return logg
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	if data != nil {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
			"data":     data,
		}).Error(err.Error())
	} else {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
		}).Error(err.Error())
	}
}
