// Package main provides the freezegraph CLI: it builds VGG16, freezes it into
// a single GraphDef file and loads the file back.
package main

import (
	"os"

	logs "github.com/sirupsen/logrus"
)

const version = "v0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logs.WithFields(logs.Fields{"Error": err}).Error("freezegraph failed")
		os.Exit(1)
	}
}
