// Command villes runs one stage of the city pipeline: collect, enrich or
// serve.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
