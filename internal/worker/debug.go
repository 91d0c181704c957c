package worker

import (
	"log"
	"os"
	"strings"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("WAVERCHAT_WORKER_DEBUG"), "1")

func debugLog(format string, args ...interface{}) {
	if workerDebugEnabled {
		log.Printf(format, args...)
	}
}

// Debugf logs through the worker debug switch for packages driven by a Loop.
func Debugf(format string, args ...interface{}) {
	debugLog(format, args...)
}
