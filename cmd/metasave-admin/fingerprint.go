// ABOUTME: fingerprint command: prints the account id an SSH key signs in as
// ABOUTME: Runs locally on a public key file, or on the private key in METASAVE_SSH_KEY

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/2389/metasave/internal/auth"
)

// runFingerprint needs no server, so main calls it before dialing.
func runFingerprint(args []string, out io.Writer) error {
	var path string
	switch len(args) {
	case 0:
		path = os.Getenv("METASAVE_SSH_KEY")
		if path == "" {
			return errors.New("usage: fingerprint <key-file> (or set METASAVE_SSH_KEY)")
		}
	case 1:
		path = args[0]
	default:
		return fmt.Errorf("unexpected argument %q", args[1])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading key: %w", err)
	}

	fp, err := auth.ParseFingerprintFromKey(string(data))
	if err != nil {
		// private keys carry their public half
		signer, perr := ssh.ParsePrivateKey(data)
		if perr != nil {
			return fmt.Errorf("%s: not an SSH public or private key: %w", path, err)
		}
		fp = auth.ComputeFingerprint(signer.PublicKey())
	}

	_, _ = fmt.Fprintln(out, fp)
	return nil
}
