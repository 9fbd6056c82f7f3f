// Package pcsc wraps a PC/SC reader connection as an ntag424.Card.
package pcsc

import (
	"fmt"

	"github.com/ebfe/scard"
)

// Connection wraps a PC/SC card connection.
type Connection struct {
	ctx       *scard.Context
	card      *scard.Card
	Reader    string
	ReaderIdx int
	escape    bool
}

// Connect establishes a connection to the given reader index. When escape is
// true, APDUs are sent via the reader's vendor escape channel instead of the
// standard card channel — some ACR122U-class readers need this to pass
// NTAG 424 DNA's longer secure-messaging frames through untouched.
func Connect(readerIndex int, escape bool) (*Connection, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("EstablishContext failed: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("no readers found: %v", err)
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("reader index out of range (0..%d)", len(readers)-1)
	}

	reader := readers[readerIndex]
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	return &Connection{
		ctx:       ctx,
		card:      card,
		Reader:    reader,
		ReaderIdx: readerIndex,
		escape:    escape,
	}, nil
}

// Close disconnects the card and releases the PC/SC context.
func (c *Connection) Close() {
	if c == nil {
		return
	}
	if c.card != nil {
		_ = c.card.Disconnect(scard.LeaveCard)
	}
	if c.ctx != nil {
		_ = c.ctx.Release()
	}
}

// Transmit sends an APDU to the card, implementing ntag424.Card. When the
// connection was opened with escape=true, the vendor escape control code is
// used instead of a plain Transmit.
func (c *Connection) Transmit(apdu []byte) ([]byte, error) {
	if c == nil || c.card == nil {
		return nil, fmt.Errorf("connection not established")
	}
	if c.escape {
		const ioctlCCGPPCSCEscape = 0x42000000 + 3500<<2
		return c.card.Control(ioctlCCGPPCSCEscape, apdu)
	}
	return c.card.Transmit(apdu)
}
