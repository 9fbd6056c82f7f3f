package main

import (
	"fmt"

	"github.com/barnettlynn/ntag424sdm/internal/transport/pcsc"
	"github.com/barnettlynn/ntag424sdm/pkg/ntag424"
)

// connectReader opens a PC/SC connection using the resolved config.
func connectReader() (*pcsc.Connection, error) {
	idx := 0
	if cfg.Reader.Index != nil {
		idx = *cfg.Reader.Index
	}
	conn, err := pcsc.Connect(idx, cfg.Reader.Escape)
	if err != nil {
		return nil, fmt.Errorf("connect reader %d: %w", idx, err)
	}
	return conn, nil
}

var _ ntag424.Card = (*pcsc.Connection)(nil)
