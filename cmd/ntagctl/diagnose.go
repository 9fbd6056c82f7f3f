package main

import (
	"github.com/spf13/cobra"

	"github.com/barnettlynn/ntag424sdm/internal/report"
	"github.com/barnettlynn/ntag424sdm/internal/toolkit"
)

var diagnoseKeyFile string

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Read a tag's version, UID, and file settings without modifying it",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := connectReader()
		if err != nil {
			return err
		}
		defer conn.Close()

		var key []byte
		if diagnoseKeyFile != "" {
			key, err = resolveKey(diagnoseKeyFile, "PICC master key")
			if err != nil {
				return err
			}
		}

		rep, err := toolkit.Diagnose(conn, key)
		if err != nil {
			return err
		}
		report.PrintDiagnose(rep)
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().StringVar(&diagnoseKeyFile, "picc-key-file", "", "candidate key file, to probe key slots and read file counters")
}
