package main

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/skip2/go-qrcode"

	"github.com/nugget/linkbroker/internal/config"
)

// generateSecret produces a random link secret for "register" output. It
// is shown once and never stored in cleartext (linkdirectory hashes it).
func generateSecret() string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failing means the system is unusable anyway
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

// printPairingCode displays a QR code encoding the link's connect URL
// (broker address plus link name), so a dslink-style client can scan
// instead of hand-typing the URL. The secret is not part of the code.
// Falls back to a plain line when stdout isn't a terminal (e.g. piped
// into a file or another program).
func printPairingCode(name string, createdAt time.Time, cfg *config.Config) error {
	target := fmt.Sprintf("ws://%s:%d/conn?name=%s", displayHost(cfg.Listen.Address), cfg.Listen.Port, name)

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Println(target)
		return nil
	}

	qr, err := qrcode.New(target, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("generate qr code: %w", err)
	}

	fmt.Printf("Pairing link %q, registered %s\n\n", name, humanize.Time(createdAt))
	fmt.Println(qr.ToSmallString(false))
	fmt.Println(target)
	return nil
}

func displayHost(addr string) string {
	if addr == "" {
		return "localhost"
	}
	return addr
}
