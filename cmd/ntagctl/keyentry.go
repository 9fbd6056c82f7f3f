package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/barnettlynn/ntag424sdm/pkg/ntag424"
)

// resolveKey loads a 16-byte key from path, or if path is empty, prompts for
// it with masked terminal input.
func resolveKey(path, prompt string) ([]byte, error) {
	if path != "" {
		return ntag424.LoadKeyHexFile(path)
	}
	fmt.Fprintf(os.Stderr, "%s (hex, 32 chars): ", prompt)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		return decodeKeyHex(line)
	}
	line, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	return decodeKeyHex(string(line))
}

func decodeKeyHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex key: %w", err)
	}
	if len(key) != 16 {
		return nil, fmt.Errorf("key must be 16 bytes, got %d", len(key))
	}
	return key, nil
}
