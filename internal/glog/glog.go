// Package glog is a small leveled logger in the style of the teacher
// repository's own weed/glog package: a verbosity-gated Info level plus
// unconditional Warning/Error/Fatal levels, all backed by the standard
// library's log package rather than a vendored copy of glog itself.
package glog

import (
	"log"
	"os"
	"sync/atomic"
)

var verbosity atomic.Int32

var logger = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

// SetVerbosity sets the global V() threshold.
func SetVerbosity(v int) {
	verbosity.Store(int32(v))
}

// Verbose is returned by V and gates Info-level logging by verbosity.
type Verbose bool

// V reports whether verbosity level v is enabled.
func V(v int) Verbose {
	return Verbose(int32(v) <= verbosity.Load())
}

func (vb Verbose) Infof(format string, args ...interface{}) {
	if vb {
		logger.Printf("I "+format, args...)
	}
}

func (vb Verbose) Info(args ...interface{}) {
	if vb {
		logger.Print(append([]interface{}{"I "}, args...)...)
	}
}

func Infof(format string, args ...interface{}) {
	logger.Printf("I "+format, args...)
}

func Warningf(format string, args ...interface{}) {
	logger.Printf("W "+format, args...)
}

func Errorf(format string, args ...interface{}) {
	logger.Printf("E "+format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logger.Fatalf("F "+format, args...)
}
