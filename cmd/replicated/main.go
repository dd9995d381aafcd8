// Command replicated runs the file-replication service: it opens the
// queue store, resumes whatever buckets were persisted, and serves until
// interrupted. Wiring follows the usual shape for this kind of daemon —
// open db, init schema, install a signal context, run — fronted with a
// cobra/viper CLI for flags and env vars.
package main

import (
	"os"

	"github.com/moisa13/file-copy/cmd/replicated/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
