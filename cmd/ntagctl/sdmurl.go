package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/ntag424sdm/pkg/ntag424"
)

var (
	sdmURLUIDHex   string
	sdmURLCounter  uint32
	sdmURLKeyFile  string
	sdmURLBase     string
	sdmURLVerify   string
)

var sdmURLCmd = &cobra.Command{
	Use:   "sdm-url",
	Short: "Generate or verify the URL a tag's SDM mirroring would produce",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := resolveKey(sdmURLKeyFile, "SDM MAC key")
		if err != nil {
			return err
		}

		if sdmURLVerify != "" {
			ok, err := ntag424.VerifySDMMAC(sdmURLVerify, key)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			if ok {
				fmt.Println("MAC valid")
				return nil
			}
			fmt.Println("MAC invalid")
			return fmt.Errorf("SDM MAC verification failed")
		}

		uid, err := hex.DecodeString(sdmURLUIDHex)
		if err != nil {
			return fmt.Errorf("invalid --uid: %w", err)
		}
		url, err := ntag424.GenerateSDMURL(sdmURLBase, uid, sdmURLCounter, key)
		if err != nil {
			return fmt.Errorf("generate SDM URL: %w", err)
		}
		fmt.Println(url)
		return nil
	},
}

func init() {
	sdmURLCmd.Flags().StringVar(&sdmURLUIDHex, "uid", "", "tag UID (hex)")
	sdmURLCmd.Flags().Uint32Var(&sdmURLCounter, "ctr", 0, "read counter value")
	sdmURLCmd.Flags().StringVar(&sdmURLKeyFile, "sdm-key-file", "", "SDM MAC key file")
	sdmURLCmd.Flags().StringVar(&sdmURLBase, "base-url", "", "base URL template (for generation)")
	sdmURLCmd.Flags().StringVar(&sdmURLVerify, "verify", "", "a tapped URL to verify instead of generating one")
}
