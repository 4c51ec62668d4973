// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package internal

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Package-level logger. No mutable config globals besides this handle:
// verbosity and output file are set once via LogAlsoToFile/SetVerbose at
// startup, mirroring the teacher's single shared logger.
var log = logrus.New()

func init() {
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
}

// LogAlsoToFile duplicates all subsequent log output to the given file, in
// addition to stdout.
func LogAlsoToFile(fileName string) error {
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

// SetVerbose raises the logger to debug level when TESTING/VERBOSE is
// requested by the caller's configuration, instead of a mutable global.
func SetVerbose(verbose bool) {
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// LogPrintf logs a formatted informational message.
func LogPrintf(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// LogPrintln logs an informational message.
func LogPrintln(args ...interface{}) {
	log.Infoln(args...)
}

// LogDebugf logs a formatted debug message, shown only with SetVerbose(true).
func LogDebugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// LogFatal logs an error and terminates the process.
func LogFatal(args ...interface{}) {
	log.Fatalln(args...)
}

// LogFatalf logs a formatted error and terminates the process.
func LogFatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}

// LogSync is a no-op placeholder kept for parity with callers that flush
// buffered log sinks before process exit.
func LogSync() {}
