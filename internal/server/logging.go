package server

import (
	"io"
	"net/url"
	"os"

	"github.com/born-ml/graphfreeze/internal/config"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	logs "github.com/sirupsen/logrus"
)

// helper function to unescape logged request URIs
func utcMsg(data []byte) string {
	s := string(data)
	v, e := url.QueryUnescape(s)
	if e == nil {
		return v
	}
	return s
}

// custom rotate logger
type rotateLogWriter struct {
	RotateLogs *rotatelogs.RotateLogs
}

func (w rotateLogWriter) Write(data []byte) (int, error) {
	return w.RotateLogs.Write([]byte(utcMsg(data)))
}

// SetupLogging configures the standard logrus logger from c: formatter,
// verbosity, and daily rotated files when LogFile is set.
func SetupLogging(c *config.Configuration) error {
	if c.LogFormatter == "json" {
		logs.SetFormatter(&logs.JSONFormatter{})
	} else {
		logs.SetFormatter(&logs.TextFormatter{FullTimestamp: true})
	}
	switch {
	case c.Verbose > 1:
		logs.SetLevel(logs.TraceLevel)
	case c.Verbose > 0:
		logs.SetLevel(logs.DebugLevel)
	default:
		logs.SetLevel(logs.InfoLevel)
	}

	var out io.Writer = os.Stderr
	if c.LogFile != "" {
		logName := c.LogFile + "-%Y%m%d"
		if hostname, err := os.Hostname(); err == nil {
			logName = c.LogFile + "-" + hostname + "-%Y%m%d"
		}
		rl, err := rotatelogs.New(logName)
		if err != nil {
			return err
		}
		out = rotateLogWriter{RotateLogs: rl}
	}
	logs.SetOutput(out)
	return nil
}
