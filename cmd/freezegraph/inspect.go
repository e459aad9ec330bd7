package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/born-ml/graphfreeze/internal/graphdef"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect FILE.pb",
		Short: "Describe a frozen graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := graphdef.ReadFile(args[0])
			if err != nil {
				return err
			}
			info := graphdef.Info(def)
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "nodes:      %d\n", info.NodeCount)
			fmt.Fprintf(out, "producer:   %d\n", info.Producer)
			fmt.Fprintf(out, "inputs:     %v\n", info.Inputs)
			fmt.Fprintf(out, "outputs:    %v\n", info.Outputs)
			fmt.Fprintf(out, "variables:  %d\n", info.Variables)
			fmt.Fprintf(out, "constants:  %d (%d bytes)\n", info.Constants, info.ConstBytes)
			ops := make([]string, 0, len(info.Ops))
			for op := range info.Ops {
				ops = append(ops, op)
			}
			sort.Strings(ops)
			for _, op := range ops {
				fmt.Fprintf(out, "  %-12s %d\n", op, info.Ops[op])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
