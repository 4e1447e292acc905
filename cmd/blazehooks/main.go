package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var version = "0.1.0"

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd, args := argv[0], argv[1:]
	switch cmd {
	case "start":
		return runStart(args)
	case "monitor":
		return runMonitor(args)
	case "receive":
		return runReceive(args)
	case "sign":
		return runSign(args)
	case "verify":
		return runVerify(args)
	case "keygen":
		return runKeygen(args)
	case "config":
		return runConfigCheck(args)
	case "version":
		fmt.Printf("blazehooks version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w *os.File) {
	fmt.Fprint(w, `blazehooks - signed webhook delivery for BlazeBlog

Usage:
  blazehooks <command> [flags]

Commands:
  start      Run the delivery service (admin API, workers, janitor)
  monitor    Live delivery dashboard (SSE from the API, or Redis broadcast)
  receive    Run a reference receiver that verifies signatures
  sign       Print the X-Signature header for a body
  verify     Check an X-Signature header against a body
  keygen     Generate a master key for secrets.master_key
  config     Validate a configuration file ("config check")
  version    Show version information
  help       Show this help message

Use 'blazehooks <command> -h' for command flags.
`)
}
