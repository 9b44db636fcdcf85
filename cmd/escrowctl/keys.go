package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"juryledger/cmd/internal/passphrase"
	"juryledger/crypto"
	"juryledger/gateway/middleware"
)

const (
	defaultKeystorePassEnv = "ESCROWCTL_KEYSTORE_PASS"
	defaultSecretEnv       = "ESCROWCTL_HMAC_SECRET"
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	flags := newFlagSet("keygen", stderr)
	keystorePath := flags.String("keystore", "", "output path for the encrypted keystore")
	passEnv := flags.String("pass-env", defaultKeystorePassEnv, "environment variable holding the keystore passphrase")
	force := flags.Bool("force", false, "overwrite an existing keystore")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*keystorePath) == "" {
		fmt.Fprintln(stderr, "Error: --keystore is required")
		return 1
	}
	if _, err := os.Stat(*keystorePath); err == nil && !*force {
		fmt.Fprintf(stderr, "Error: keystore %s already exists (use --force to overwrite)\n", *keystorePath)
		return 1
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	pass, err := passphrase.NewSource(*passEnv, "keystore passphrase").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error: write keystore: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Address: %s\nKeystore: %s\n", key.Address().String(), *keystorePath)
	return 0
}

func runToken(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "mint" {
		fmt.Fprintln(stderr, "Usage: escrowctl token mint --sub ADDRESS|--keystore PATH [--ttl 1h]")
		return 1
	}
	flags := newFlagSet("token mint", stderr)
	subject := flags.String("sub", "", "account address the token authenticates")
	keystorePath := flags.String("keystore", "", "derive the subject from this keystore instead of --sub")
	passEnv := flags.String("pass-env", defaultKeystorePassEnv, "environment variable holding the keystore passphrase")
	ttl := flags.Duration("ttl", time.Hour, "token lifetime")
	issuer := flags.String("issuer", "escrowd", "token issuer")
	audience := flags.String("audience", "escrowd", "token audience")
	secretEnv := flags.String("secret-env", defaultSecretEnv, "environment variable holding the HMAC secret")
	if err := flags.Parse(args[1:]); err != nil {
		return 1
	}
	if *ttl <= 0 {
		fmt.Fprintln(stderr, "Error: --ttl must be positive")
		return 1
	}

	var sub crypto.Address
	switch {
	case strings.TrimSpace(*subject) != "":
		addr, err := crypto.ParseAddress(*subject)
		if err != nil {
			fmt.Fprintf(stderr, "Error: --sub: %v\n", err)
			return 1
		}
		sub = addr
	case strings.TrimSpace(*keystorePath) != "":
		pass, err := passphrase.NewSource(*passEnv, "keystore passphrase").Get()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		key, err := crypto.LoadFromKeystore(*keystorePath, pass)
		if err != nil {
			fmt.Fprintf(stderr, "Error: load keystore: %v\n", err)
			return 1
		}
		sub = key.Address()
	default:
		fmt.Fprintln(stderr, "Error: --sub or --keystore is required")
		return 1
	}

	secret, err := passphrase.NewSource(*secretEnv, "HMAC secret").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	token, err := middleware.IssueToken(secret, *issuer, *audience, sub, *ttl, ctlNow())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
