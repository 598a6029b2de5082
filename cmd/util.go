package cmd

import (
	"strings"
	"time"
)

func joinArgv(argv []string) string {
	return strings.Join(argv, " ")
}

// nowFunc is a seam so tests could substitute a fixed clock; production
// code always uses the real time.
var nowFunc = time.Now
