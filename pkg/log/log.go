// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"io"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rollup-settlement/ethsender/pkg/confutil"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const maxFieldValueLen = 61

var (
	rootLogger = logrus.NewEntry(logrus.StandardLogger())

	// L returns the logger carried by the context, or the root logger
	L = loggerFromContext

	initialized atomic.Bool
)

type ctxLogKey struct{}

func InitConfig(conf *Config) {
	initialized.Store(true)

	SetLevel(confutil.StringNotEmpty(conf.Level, *Defaults.Level))

	switch confutil.StringNotEmpty(conf.Output, *Defaults.Output) {
	case "file":
		logrus.SetOutput(fileOutput(conf))
	case "stdout":
		logrus.SetOutput(os.Stdout)
	default:
		logrus.SetOutput(os.Stderr)
	}

	logrus.SetFormatter(buildFormatter(conf))
}

func fileOutput(conf *Config) io.Writer {
	filename := confutil.StringNotEmpty(conf.File.Filename, *Defaults.File.Filename)
	rootLogger.Infof("Logs diverted to %s", filename)
	maxSize := confutil.ByteSize(conf.File.MaxSize, 0, *Defaults.File.MaxSize)
	maxAge := confutil.DurationMin(conf.File.MaxAge, 0, *Defaults.File.MaxAge)
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    int(math.Ceil(float64(maxSize) / 1024 / 1024)),         // megabytes, rounded up
		MaxAge:     int(math.Ceil(float64(maxAge) / float64(time.Hour) / 24)), // days, rounded up
		MaxBackups: confutil.IntMin(conf.File.MaxBackups, 0, *Defaults.File.MaxBackups),
		Compress:   confutil.Bool(conf.File.Compress, *Defaults.File.Compress),
	}
}

type utcFormatter struct {
	logrus.Formatter
}

func (u *utcFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Time = e.Time.UTC()
	return u.Formatter.Format(e)
}

func buildFormatter(conf *Config) (formatter logrus.Formatter) {
	timeFormat := confutil.StringNotEmpty(conf.TimeFormat, *Defaults.TimeFormat)
	disableColor := confutil.Bool(conf.DisableColor, *Defaults.DisableColor)
	forceColor := confutil.Bool(conf.ForceColor, *Defaults.ForceColor)

	switch confutil.StringNotEmpty(conf.Format, *Defaults.Format) {
	case "json":
		formatter = &logrus.JSONFormatter{
			TimestampFormat: timeFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  confutil.StringNotEmpty(conf.JSON.TimestampField, *Defaults.JSON.TimestampField),
				logrus.FieldKeyLevel: confutil.StringNotEmpty(conf.JSON.LevelField, *Defaults.JSON.LevelField),
				logrus.FieldKeyMsg:   confutil.StringNotEmpty(conf.JSON.MessageField, *Defaults.JSON.MessageField),
				logrus.FieldKeyFunc:  confutil.StringNotEmpty(conf.JSON.FuncField, *Defaults.JSON.FuncField),
				logrus.FieldKeyFile:  confutil.StringNotEmpty(conf.JSON.FileField, *Defaults.JSON.FileField),
			},
		}
	case "detailed":
		logrus.SetReportCaller(true)
		formatter = &logrus.TextFormatter{
			DisableColors:   disableColor,
			ForceColors:     forceColor,
			TimestampFormat: timeFormat,
			FullTimestamp:   true,
		}
	default:
		formatter = &prefixed.TextFormatter{
			DisableColors:   disableColor,
			ForceColors:     forceColor,
			TimestampFormat: timeFormat,
			ForceFormatting: true,
			FullTimestamp:   true,
		}
	}
	if confutil.Bool(conf.UTC, *Defaults.UTC) {
		formatter = &utcFormatter{Formatter: formatter}
	}
	return formatter
}

// EnsureInit applies default config if nothing has initialized logging yet (unit tests)
func EnsureInit() {
	if !initialized.Load() {
		InitConfig(&Config{})
	}
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	EnsureInit()
	return context.WithValue(ctx, ctxLogKey{}, logger)
}

// WithLogField returns a context whose logger carries the extra field. Long values are truncated.
func WithLogField(ctx context.Context, key, value string) context.Context {
	if len(value) > maxFieldValueLen {
		value = value[0:maxFieldValueLen] + "..."
	}
	return WithLogger(ctx, loggerFromContext(ctx).WithField(key, value))
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if logger, ok := ctx.Value(ctxLogKey{}).(*logrus.Entry); ok {
		return logger
	}
	return rootLogger
}

func IsDebugEnabled() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}

func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func GetLevel() string {
	switch logrus.GetLevel() {
	case logrus.ErrorLevel:
		return "error"
	case logrus.WarnLevel:
		return "warn"
	case logrus.DebugLevel:
		return "debug"
	case logrus.TraceLevel:
		return "trace"
	default:
		return "info"
	}
}
