package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/ntag424sdm/internal/ledger"
	"github.com/barnettlynn/ntag424sdm/internal/report"
	"github.com/barnettlynn/ntag424sdm/internal/toolkit"
)

var (
	restoreLedgerPath string
	restoreUID        string
)

var restoreFactoryCmd = &cobra.Command{
	Use:   "restore-factory",
	Short: "Revert a provisioned tag back to factory default keys and settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledgerPath := restoreLedgerPath
		if ledgerPath == "" {
			ledgerPath = cfg.Ledger.Path
		}
		if ledgerPath == "" {
			return fmt.Errorf("a ledger path is required (--ledger or config ledger.path)")
		}
		if restoreUID == "" {
			return fmt.Errorf("--uid is required")
		}

		conn, err := connectReader()
		if err != nil {
			return err
		}
		defer conn.Close()

		ldgr := ledger.Open(ledgerPath)
		rep, err := toolkit.RestoreFactory(conn, ldgr, restoreUID)
		if err != nil {
			return err
		}
		report.PrintRestore(rep)
		return nil
	},
}

func init() {
	restoreFactoryCmd.Flags().StringVar(&restoreLedgerPath, "ledger", "", "path to the key ledger CSV")
	restoreFactoryCmd.Flags().StringVar(&restoreUID, "uid", "", "tag UID (hex) to restore, as recorded in the ledger")
}
