// Command zippynfs-mount mounts a ZippyNFS server onto a local directory
// via FUSE. It holds no durable state: every operation is translated
// straight through to the server over internal/rpcsvc.
package main

import (
	"fmt"
	"os"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mark-i-m/zippynfs/internal/fuseclient"
)

var (
	serverAddr string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "zippynfs-mount MOUNTPOINT",
	Short: "Mount a ZippyNFS server over FUSE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mount(args[0])
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&serverAddr, "server", "127.0.0.1:7923", "zippynfsd address")
	flags.BoolVar(&debug, "debug", false, "log every FUSE operation")
	pflag.CommandLine = flags
}

func mount(mountpoint string) error {
	client, err := fuseclient.Dial("tcp", serverAddr)
	if err != nil {
		return fmt.Errorf("zippynfs-mount: %w", err)
	}
	defer client.Close()

	root := fuseclient.Root(client)
	server, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{Debug: debug},
	})
	if err != nil {
		return fmt.Errorf("zippynfs-mount: mount: %w", err)
	}

	logrus.WithFields(logrus.Fields{"mountpoint": mountpoint, "server": serverAddr}).Info("mounted")
	server.Wait()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
