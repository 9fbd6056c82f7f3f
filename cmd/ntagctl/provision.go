package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/ntag424sdm/internal/ledger"
	"github.com/barnettlynn/ntag424sdm/internal/report"
	"github.com/barnettlynn/ntag424sdm/internal/toolkit"
	"github.com/barnettlynn/ntag424sdm/pkg/ntag424"
)

var (
	provisionLedgerPath  string
	provisionURL         string
	provisionUIDPH       string
	provisionCtrPH       string
	provisionMACPH       string
	provisionFactoryFile string
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Turn a factory-default tag into a configured SDM tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledgerPath := provisionLedgerPath
		if ledgerPath == "" {
			ledgerPath = cfg.Ledger.Path
		}
		if ledgerPath == "" {
			return fmt.Errorf("a ledger path is required (--ledger or config ledger.path)")
		}

		tmpl := ntag424.SDMUrlTemplate{
			BaseURL:        orDefault(provisionURL, cfg.SDM.BaseURL),
			UIDPlaceholder: orDefault(provisionUIDPH, cfg.SDM.UIDPlaceholder),
			CtrPlaceholder: orDefault(provisionCtrPH, cfg.SDM.CtrPlaceholder),
			MACPlaceholder: orDefault(provisionMACPH, cfg.SDM.MACPlaceholder),
		}
		if tmpl.BaseURL == "" {
			return fmt.Errorf("a tap URL template is required (--url or config sdm.base_url)")
		}

		factoryKey, err := resolveKey(provisionFactoryFile, "Factory master key")
		if err != nil {
			return err
		}

		conn, err := connectReader()
		if err != nil {
			return err
		}
		defer conn.Close()

		ldgr := ledger.Open(ledgerPath)
		rep, err := toolkit.Provision(conn, ldgr, factoryKey, tmpl)
		if err != nil {
			return err
		}
		report.PrintProvision(rep)
		return nil
	},
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func init() {
	provisionCmd.Flags().StringVar(&provisionLedgerPath, "ledger", "", "path to the key ledger CSV")
	provisionCmd.Flags().StringVar(&provisionURL, "url", "", "tap URL template, with placeholder substrings for UID/counter/MAC")
	provisionCmd.Flags().StringVar(&provisionUIDPH, "uid-placeholder", "", "literal UID placeholder substring in --url")
	provisionCmd.Flags().StringVar(&provisionCtrPH, "ctr-placeholder", "", "literal counter placeholder substring in --url")
	provisionCmd.Flags().StringVar(&provisionMACPH, "mac-placeholder", "", "literal MAC placeholder substring in --url")
	provisionCmd.Flags().StringVar(&provisionFactoryFile, "factory-key-file", "", "factory PICC master key file (prompted for with masked input if omitted)")
}
