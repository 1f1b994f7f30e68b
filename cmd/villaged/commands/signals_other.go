//go:build !unix

package commands

import "os"

func suspendSignals() []os.Signal { return nil }
