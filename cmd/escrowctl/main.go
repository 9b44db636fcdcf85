package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	defaultEndpoint = "http://localhost:8080"
	endpointEnv     = "ESCROWCTL_ENDPOINT"
	tokenEnv        = "ESCROWCTL_TOKEN"
)

var ctlNow = time.Now

type globalOptions struct {
	endpoint       string
	token          string
	output         string
	idempotencyKey string
	timeout        time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, rest, err := parseGlobalFlags(args, stderr)
	if err != nil {
		return 1
	}
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	cmd := &command{opts: opts, stdout: stdout, stderr: stderr}
	switch rest[0] {
	case "keygen":
		return runKeygen(rest[1:], stdout, stderr)
	case "token":
		return runToken(rest[1:], stdout, stderr)
	case "register":
		return cmd.register(rest[1:])
	case "offer":
		return cmd.offer(rest[1:])
	case "offers":
		return cmd.offersByAccount(rest[1:])
	case "withdraw":
		return cmd.withdraw(rest[1:])
	case "fees":
		return cmd.fees(rest[1:])
	case "balance":
		return cmd.balance(rest[1:])
	case "audit":
		return cmd.audit(rest[1:])
	case "admin":
		return cmd.admin(rest[1:])
	case "events":
		return cmd.events(rest[1:])
	case "export":
		return cmd.export(rest[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func parseGlobalFlags(args []string, stderr io.Writer) (globalOptions, []string, error) {
	endpoint := strings.TrimSpace(os.Getenv(endpointEnv))
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	opts := globalOptions{endpoint: endpoint, token: os.Getenv(tokenEnv), output: "json"}
	fs := flag.NewFlagSet("escrowctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.endpoint, "endpoint", opts.endpoint, "escrowd base URL (env "+endpointEnv+")")
	fs.StringVar(&opts.token, "token", opts.token, "bearer token for mutating calls (env "+tokenEnv+")")
	fs.StringVar(&opts.output, "output", opts.output, "output format: json or yaml")
	fs.StringVar(&opts.idempotencyKey, "idempotency-key", "", "Idempotency-Key for a mutating call (random when empty)")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	switch opts.output {
	case "json", "yaml":
	default:
		fmt.Fprintf(stderr, "Error: --output must be json or yaml\n")
		return opts, nil, fmt.Errorf("invalid output %q", opts.output)
	}
	return opts, fs.Args(), nil
}

func usage() string {
	return strings.TrimSpace(`
Usage: escrowctl [--endpoint URL] [--token JWT] [--output json|yaml] <command> [flags]

Keys and tokens:
  keygen --keystore PATH                      generate an account keystore
  token mint --sub ADDRESS --ttl 1h           mint a bearer token (secret from ESCROWCTL_HMAC_SECRET)

Accounts:
  register --role requester|provider|juror
  balance --account ADDRESS
  offers --account ADDRESS
  withdraw

Offers:
  offer create --description REF --price N --delivery-timeout SECONDS
  offer get|confirm|cancel|dispute|dispute-details --id N
  offer accept --id N --paid N
  offer proof --id N --proof REF [--comment TEXT]
  offer vote --id N --for ADDRESS

Platform:
  fees get | fees withdraw
  audit
  admin pause|resume --module offers|disputes|ledger
  admin paused
  events [--offer N] [--after SEQ] [--limit N]
  export --format parquet|json|yaml --out PATH [--offer N]`)
}
