package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thesyncim/transcode"
	"github.com/thesyncim/transcode/container"
)

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "probe <file>",
		Short:   "List the tracks of a file and the codecs able to handle them",
		Example: `  transcode probe in.ivf`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return probe(args[0])
		},
	}
}

func probe(path string) error {
	ex, err := container.Open(path)
	if err != nil {
		return err
	}
	defer ex.Close()

	providers := transcode.Providers()
	for i := 0; i < ex.TrackCount(); i++ {
		format, err := ex.TrackFormat(i)
		if err != nil {
			return err
		}
		decoder := "none"
		if p, err := transcode.SelectDecoder(providers, format.MimeType); err == nil {
			decoder = p.Name()
		}
		fmt.Printf("track %d: %s (decoder: %s)\n", i, format, decoder)
	}
	return nil
}
