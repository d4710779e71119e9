// Package logging configures the process-wide logrus logger.
package logging

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tradepost/internal/protocol"
)

// SetLogger sets the standard logger's level and formatter.
func SetLogger(level string) {
	formatter := new(logrus.TextFormatter)
	formatter.TimestampFormat = time.RFC3339
	formatter.FullTimestamp = true
	logrus.SetFormatter(formatter)
	logrus.SetLevel(ParseLevel(level))
}

// ParseLevel maps a level name to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func RequestFields(req protocol.Request) logrus.Fields {
	fields := logrus.Fields{"request": req.Type.String()}
	if len(req.Payload) > 0 {
		fields["payload"] = string(req.Payload)
	}
	return fields
}

func ResponseFields(resp protocol.Response) logrus.Fields {
	fields := logrus.Fields{
		"request": resp.Type.String(),
		"success": resp.Success,
	}
	if !resp.Success {
		fields["code"] = string(resp.Code)
		fields["message"] = resp.Message
	}
	return fields
}
