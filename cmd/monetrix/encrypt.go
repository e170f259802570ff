package main

import (
	"fmt"
	"io"
	"os"

	"monetrix/internal/infra/config"
)

// runEncrypt prints an enc: value for config.yaml.
func runEncrypt(args []string) error {
	return encryptTo(os.Stdout, args, os.Getenv("MONETRIX_CONFIG_KEY"))
}

func encryptTo(w io.Writer, args []string, passphrase string) error {
	if len(args) != 1 || args[0] == "" {
		return fmt.Errorf("usage: monetrix encrypt <value>")
	}
	if passphrase == "" {
		return fmt.Errorf("MONETRIX_CONFIG_KEY must be set to the passphrase used at load time")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "enc:%s\n", enc)
	return nil
}
