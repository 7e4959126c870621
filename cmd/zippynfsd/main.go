// Command zippynfsd runs the ZippyNFS storage engine behind the net/rpc
// transport defined in internal/rpcsvc.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("zippynfsd exiting")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
