package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/ntag424sdm/internal/ledger"
	"github.com/barnettlynn/ntag424sdm/internal/report"
	"github.com/barnettlynn/ntag424sdm/internal/toolkit"
	"github.com/barnettlynn/ntag424sdm/internal/transport/simulator"
	"github.com/barnettlynn/ntag424sdm/pkg/ntag424"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run toolkit operations against an in-memory tag instead of a reader",
}

var simulateBaseURL string

var simulateDiagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Diagnose a freshly minted in-memory tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		sim := simulator.New(simulateBaseURL)
		rep, err := toolkit.Diagnose(sim, make([]byte, 16))
		if err != nil {
			return err
		}
		report.PrintDiagnose(rep)
		return nil
	},
}

var simulateProvisionLedgerPath string

var simulateProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision an in-memory tag end-to-end",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateProvisionLedgerPath == "" {
			return fmt.Errorf("--ledger is required")
		}
		sim := simulator.New(simulateBaseURL)
		tmpl := ntag424.SDMUrlTemplate{
			BaseURL:        simulateBaseURL,
			UIDPlaceholder: cfg.SDM.UIDPlaceholder,
			CtrPlaceholder: cfg.SDM.CtrPlaceholder,
			MACPlaceholder: cfg.SDM.MACPlaceholder,
		}
		ldgr := ledger.Open(simulateProvisionLedgerPath)
		factoryKey := make([]byte, 16)
		rep, err := toolkit.Provision(sim, ldgr, factoryKey, tmpl)
		if err != nil {
			return err
		}
		report.PrintProvision(rep)
		return nil
	},
}

func init() {
	simulateCmd.PersistentFlags().StringVar(&simulateBaseURL, "url", "https://example.com/tap?uid=00000000000000&ctr=000000&cmac=0000000000000000", "tap URL template for the in-memory tag")
	simulateProvisionCmd.Flags().StringVar(&simulateProvisionLedgerPath, "ledger", "", "path to the key ledger CSV")

	simulateCmd.AddCommand(simulateDiagnoseCmd)
	simulateCmd.AddCommand(simulateProvisionCmd)
}
