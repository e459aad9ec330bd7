package main

import (
	"fmt"

	"github.com/born-ml/graphfreeze/internal/freeze"
	"github.com/born-ml/graphfreeze/internal/importer"
	"github.com/born-ml/graphfreeze/internal/params"
	"github.com/born-ml/graphfreeze/internal/vgg16"
	logs "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	defaultParamsPath = "vgg16.safetensors"
	defaultOutFile    = "model.pb"
)

type freezeFlags struct {
	outFile   string
	synthetic bool
	width     int
	verbose   bool
}

func newRootCmd() *cobra.Command {
	f := &freezeFlags{}
	cmd := &cobra.Command{
		Use:   "freezegraph [VGG16_PARAMS_PATH]",
		Short: "Freeze the VGG16 graph with its weights into a single file",
		Long: `Builds VGG16 under the input placeholder "rgb_images", initializes its
variables from a safetensors or npz parameter file, freezes the graph with
output "prob" and loads the frozen file back.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if f.verbose {
				logs.SetLevel(logs.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			paramsPath := defaultParamsPath
			if len(args) > 0 {
				paramsPath = args[0]
			}
			return runFreeze(cmd, paramsPath, f)
		},
	}
	cmd.Flags().StringVarP(&f.outFile, "out-fname", "o", defaultOutFile, "output file of the frozen graph")
	cmd.Flags().BoolVar(&f.synthetic, "synthetic", false, "use random weights instead of a parameter file")
	cmd.Flags().IntVar(&f.width, "width", 64, "conv width of the synthetic network")
	cmd.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newInspectCmd(), newServeCmd(), newVersionCmd())
	return cmd
}

func runFreeze(cmd *cobra.Command, paramsPath string, f *freezeFlags) error {
	var p params.Set
	if f.synthetic {
		p = vgg16.SyntheticParams(f.width, 4*f.width, 1000, 1)
	} else {
		var err error
		if p, err = params.ReadFile(paramsPath); err != nil {
			return err
		}
	}

	g, _, err := vgg16.BuildGraph(p)
	if err != nil {
		return err
	}
	if _, err := freeze.FreezeGraph(g, []string{vgg16.OutputName}, freeze.Options{OutFile: f.outFile}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "vgg16 graph freezed...")

	if _, err := importer.ImportFile(f.outFile, importer.Options{}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "vgg16 graph loaded...")
	return nil
}
