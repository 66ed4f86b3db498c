package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiyor/k2share/pkg/core"
)

// APP name
const APP = "k2share"

var (
	cfg = core.Config{Port: core.DefaultPort}

	getLatest bool
	getOut    string
	getPath   string
	getList   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   APP,
	Short: "Share a file or folder on the local network.",
	RunE:  runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve --root and read control commands from stdin.",
	RunE:  runServe,
}

var getCmd = &cobra.Command{
	Use:   "get <share url>",
	Short: "Download what another share is serving.",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Encode or decode path tokens used in share links.",
}

var tokenEncodeCmd = &cobra.Command{
	Use:   "encode <abs path>",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenEncode,
}

var tokenDecodeCmd = &cobra.Command{
	Use:   "decode <token>",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenDecode,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		f := c.Flags()
		f.StringVar(&cfg.Root, "root", ".", "file or folder to share")
		f.IntVarP(&cfg.Port, "listen", "l", core.DefaultPort, "http service listen port")
		f.StringVarP(&cfg.Interface, "interface", "i", "", "http service interface address, empty for all")
		f.StringVar(&cfg.History, "history", "", "sqlite file to record downloads in")
		f.StringVar(&cfg.RedisHost, "redis-host", "", "redis host to publish download events to (e.g. localhost:6379)")
		f.BoolVar(&cfg.WebDAV, "webdav", false, "mount a read-only WebDAV view at /dav")
		f.BoolVar(&cfg.Metrics, "metrics", false, "expose prometheus metrics at /metrics")
		f.BoolVar(&cfg.Pretty, "pretty", false, "indent rendered HTML")
	}

	getCmd.Flags().BoolVar(&getLatest, "latest", false, "ask the share to rebuild its archive first")
	getCmd.Flags().StringVarP(&getOut, "out", "o", ".", "directory to save into")
	getCmd.Flags().StringVar(&getPath, "path", "", "absolute remote path to download instead of the served root")
	getCmd.Flags().BoolVar(&getList, "list", false, "print the remote folder instead of downloading")

	tokenCmd.AddCommand(tokenEncodeCmd, tokenDecodeCmd)
	rootCmd.AddCommand(serveCmd, getCmd, tokenCmd)
}
