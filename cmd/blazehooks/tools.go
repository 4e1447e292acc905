package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattjoyce/blazehooks/internal/secrets"
	"github.com/mattjoyce/blazehooks/internal/webhook"
)

// readBody returns -data if set, else the -file contents, else stdin.
func readBody(data, file string) ([]byte, error) {
	if data != "" && file != "" {
		return nil, errors.New("use either -data or -file, not both")
	}
	if data != "" {
		return []byte(data), nil
	}
	if file != "" && file != "-" {
		return os.ReadFile(file)
	}
	return io.ReadAll(os.Stdin)
}

func secretFrom(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("BLAZEHOOKS_SECRET")
}

func runSign(args []string) int {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	secret := fs.String("secret", "", "Signing secret (default $BLAZEHOOKS_SECRET)")
	ts := fs.Int64("timestamp", 0, "Unix timestamp to sign at (default now)")
	data := fs.String("data", "", "Body to sign")
	file := fs.String("file", "", "Read the body from a file ('-' for stdin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	key := secretFrom(*secret)
	if key == "" {
		fmt.Fprintln(os.Stderr, "Error: -secret or $BLAZEHOOKS_SECRET is required")
		return 1
	}
	body, err := readBody(*data, *file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *ts == 0 {
		*ts = time.Now().Unix()
	}

	fmt.Printf("%s: %s\n", webhook.SignatureHeader, webhook.SignatureFor(key, *ts, body))
	return 0
}

func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	secret := fs.String("secret", "", "Signing secret (default $BLAZEHOOKS_SECRET)")
	header := fs.String("header", "", "X-Signature header value (t=...,v1=...)")
	tolerance := fs.Duration("tolerance", webhook.DefaultTolerance, "Replay window")
	data := fs.String("data", "", "Body to verify")
	file := fs.String("file", "", "Read the body from a file ('-' for stdin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	key := secretFrom(*secret)
	if key == "" || *header == "" {
		fmt.Fprintln(os.Stderr, "Error: -header and -secret (or $BLAZEHOOKS_SECRET) are required")
		return 1
	}
	body, err := readBody(*data, *file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if !webhook.Verify(key, *header, body, *tolerance) {
		fmt.Println("invalid")
		return 1
	}
	fmt.Println("valid")
	return 0
}

func runKeygen(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := secrets.NewKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(key)
	return 0
}
