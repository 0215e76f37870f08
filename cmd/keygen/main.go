// Command keygen writes a P-256 signing key for participant tokens.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"parley/internal/keys"

	"github.com/spf13/pflag"
)

func main() {
	flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	out := flagSet.StringP("out", "o", "signing-key.pem", "path of the private key PEM to write")
	pubOut := flagSet.String("public-out", "", "optional path for the public key PEM")
	force := flagSet.BoolP("force", "f", false, "overwrite existing files")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatalf("%v", err)
	}

	key, err := keys.GenerateSigningKey()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}

	privPEM, err := keys.EncodePrivateKeyPEM(key)
	if err != nil {
		log.Fatalf("Failed to encode private key: %v", err)
	}
	if err := writeFile(*out, privPEM, 0o600, *force); err != nil {
		log.Fatalf("%v", err)
	}

	if *pubOut != "" {
		pubPEM, err := keys.EncodePublicKeyPEM(&key.PublicKey)
		if err != nil {
			log.Fatalf("Failed to encode public key: %v", err)
		}
		if err := writeFile(*pubOut, pubPEM, 0o644, *force); err != nil {
			log.Fatalf("%v", err)
		}
	}

	fmt.Printf("Wrote %s. Set SIGNING_KEY_PATH=%s\n", *out, *out)
}

func writeFile(path string, data []byte, perm os.FileMode, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
