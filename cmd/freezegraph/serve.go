package main

import (
	"github.com/born-ml/graphfreeze/internal/config"
	"github.com/born-ml/graphfreeze/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve frozen graphs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			c, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := server.SetupLogging(c); err != nil {
				return err
			}
			s, err := server.New(c)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "config.json", "server configuration file (JSON or YAML)")
	return cmd
}
