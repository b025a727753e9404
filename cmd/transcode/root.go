package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	ConfigFile string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "transcode",
		Short: "Re-encode the video and audio tracks of media files",
		Long: `transcode extracts the video and audio tracks of its inputs, decodes and
re-encodes them through asynchronous codecs and muxes the result into a
single output file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if opts.Verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "Config file (default: ./transcode.yaml if present)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log every codec event")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newProbeCommand())
	return cmd
}
