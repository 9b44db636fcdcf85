package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"juryledger/crypto"
	"juryledger/native/accounts"
)

type command struct {
	opts   globalOptions
	stdout io.Writer
	stderr io.Writer
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags parses args and rejects positional arguments.
func (c *command) parseFlags(fs *flag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func (c *command) fail(msg string) int {
	fmt.Fprintf(c.stderr, "Error: %s\n", msg)
	return 1
}

// finish renders raw or reports err.
func (c *command) finish(raw json.RawMessage, err error) int {
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(c.stderr, "Error: %s\n", apiErr.Error())
			return 2
		}
		return c.fail(err.Error())
	}
	if err := render(c.stdout, c.opts.output, raw); err != nil {
		return c.fail(err.Error())
	}
	return 0
}

func (c *command) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.timeout)
}

func validateOfferID(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("--id is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return "", errors.New("--id must be a positive integer")
	}
	return strconv.FormatUint(id, 10), nil
}

func validateAmount(flagName, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("--%s is required", flagName)
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() < 0 {
		return "", fmt.Errorf("--%s must be a non-negative integer", flagName)
	}
	return v.String(), nil
}

func validateAddress(flagName, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("--%s is required", flagName)
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return "", fmt.Errorf("--%s: %v", flagName, err)
	}
	return addr.String(), nil
}

func (c *command) register(args []string) int {
	fs := newFlagSet("register", c.stderr)
	role := fs.String("role", "", "requester, provider or juror")
	if !c.parseFlags(fs, args) {
		return 1
	}
	parsed, err := accounts.ParseRole(*role)
	if err != nil || !parsed.Valid() {
		return c.fail("--role must be requester, provider or juror")
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).post(ctx, "/v1/accounts/register", map[string]string{"role": parsed.String()}))
}

func (c *command) offer(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	switch args[0] {
	case "create":
		return c.offerCreate(args[1:])
	case "get":
		return c.offerGet(args[1:], "")
	case "dispute-details":
		return c.offerGet(args[1:], "/dispute")
	case "accept":
		return c.offerAccept(args[1:])
	case "proof":
		return c.offerProof(args[1:])
	case "confirm", "cancel", "dispute":
		return c.offerAction(args[0], args[1:])
	case "vote":
		return c.offerVote(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown offer subcommand: %s\n", args[0])
		return 1
	}
}

func (c *command) offerCreate(args []string) int {
	fs := newFlagSet("offer create", c.stderr)
	description := fs.String("description", "", "opaque reference to the offer description")
	price := fs.String("price", "", "price in base units")
	timeout := fs.Uint64("delivery-timeout", 0, "delivery window in seconds")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if strings.TrimSpace(*description) == "" {
		return c.fail("--description is required")
	}
	amount, err := validateAmount("price", *price)
	if err != nil {
		return c.fail(err.Error())
	}
	if *timeout == 0 {
		return c.fail("--delivery-timeout must be positive")
	}
	body := map[string]interface{}{
		"descriptionRef":         *description,
		"price":                  amount,
		"deliveryTimeoutSeconds": *timeout,
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).post(ctx, "/v1/offers", body))
}

func (c *command) offerGet(args []string, suffix string) int {
	fs := newFlagSet("offer get", c.stderr)
	rawID := fs.String("id", "", "offer identifier")
	if !c.parseFlags(fs, args) {
		return 1
	}
	id, err := validateOfferID(*rawID)
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).get(ctx, "/v1/offers/"+id+suffix, nil))
}

func (c *command) offerAccept(args []string) int {
	fs := newFlagSet("offer accept", c.stderr)
	rawID := fs.String("id", "", "offer identifier")
	paid := fs.String("paid", "", "amount paid, must equal the price")
	if !c.parseFlags(fs, args) {
		return 1
	}
	id, err := validateOfferID(*rawID)
	if err != nil {
		return c.fail(err.Error())
	}
	amount, err := validateAmount("paid", *paid)
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).post(ctx, "/v1/offers/"+id+"/accept", map[string]string{"paidAmount": amount}))
}

func (c *command) offerProof(args []string) int {
	fs := newFlagSet("offer proof", c.stderr)
	rawID := fs.String("id", "", "offer identifier")
	proof := fs.String("proof", "", "opaque reference to the delivery proof")
	comment := fs.String("comment", "", "optional comment")
	if !c.parseFlags(fs, args) {
		return 1
	}
	id, err := validateOfferID(*rawID)
	if err != nil {
		return c.fail(err.Error())
	}
	if strings.TrimSpace(*proof) == "" {
		return c.fail("--proof is required")
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	body := map[string]string{"proofRef": *proof, "comment": *comment}
	return c.finish(newClient(c.opts).post(ctx, "/v1/offers/"+id+"/proof", body))
}

func (c *command) offerAction(action string, args []string) int {
	fs := newFlagSet("offer "+action, c.stderr)
	rawID := fs.String("id", "", "offer identifier")
	if !c.parseFlags(fs, args) {
		return 1
	}
	id, err := validateOfferID(*rawID)
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).post(ctx, "/v1/offers/"+id+"/"+action, nil))
}

func (c *command) offerVote(args []string) int {
	fs := newFlagSet("offer vote", c.stderr)
	rawID := fs.String("id", "", "offer identifier")
	votedFor := fs.String("for", "", "party the juror votes for")
	if !c.parseFlags(fs, args) {
		return 1
	}
	id, err := validateOfferID(*rawID)
	if err != nil {
		return c.fail(err.Error())
	}
	party, err := validateAddress("for", *votedFor)
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).post(ctx, "/v1/offers/"+id+"/vote", map[string]string{"votedFor": party}))
}

func (c *command) accountQuery(name, suffix string, args []string) int {
	fs := newFlagSet(name, c.stderr)
	account := fs.String("account", "", "account address")
	if !c.parseFlags(fs, args) {
		return 1
	}
	addr, err := validateAddress("account", *account)
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).get(ctx, "/v1/accounts/"+addr+suffix, nil))
}

func (c *command) balance(args []string) int {
	return c.accountQuery("balance", "/balance", args)
}

func (c *command) offersByAccount(args []string) int {
	return c.accountQuery("offers", "/offers", args)
}

func (c *command) withdraw(args []string) int {
	fs := newFlagSet("withdraw", c.stderr)
	if !c.parseFlags(fs, args) {
		return 1
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).post(ctx, "/v1/ledger/withdraw", nil))
}

func (c *command) fees(args []string) int {
	if len(args) == 0 {
		return c.fail("fees requires get or withdraw")
	}
	fs := newFlagSet("fees "+args[0], c.stderr)
	if !c.parseFlags(fs, args[1:]) {
		return 1
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	switch args[0] {
	case "get":
		return c.finish(newClient(c.opts).get(ctx, "/v1/ledger/fees", nil))
	case "withdraw":
		return c.finish(newClient(c.opts).post(ctx, "/v1/ledger/fees/withdraw", nil))
	default:
		return c.fail("fees requires get or withdraw")
	}
}

func (c *command) audit(args []string) int {
	fs := newFlagSet("audit", c.stderr)
	if !c.parseFlags(fs, args) {
		return 1
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).get(ctx, "/v1/ledger/audit", nil))
}

func (c *command) admin(args []string) int {
	if len(args) == 0 {
		return c.fail("admin requires pause, resume or paused")
	}
	sub := args[0]
	fs := newFlagSet("admin "+sub, c.stderr)
	module := fs.String("module", "", "offers, disputes or ledger")
	if !c.parseFlags(fs, args[1:]) {
		return 1
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	switch sub {
	case "paused":
		return c.finish(newClient(c.opts).get(ctx, "/v1/admin/paused", nil))
	case "pause", "resume":
		name := strings.ToLower(strings.TrimSpace(*module))
		if name == "" {
			return c.fail("--module is required")
		}
		return c.finish(newClient(c.opts).post(ctx, "/v1/admin/"+sub+"/"+url.PathEscape(name), nil))
	default:
		return c.fail("admin requires pause, resume or paused")
	}
}

func (c *command) events(args []string) int {
	fs := newFlagSet("events", c.stderr)
	offer := fs.Uint64("offer", 0, "only events of this offer")
	after := fs.Uint64("after", 0, "only events after this sequence")
	limit := fs.Int("limit", 100, "maximum number of events")
	if !c.parseFlags(fs, args) {
		return 1
	}
	ctx, cancel := c.requestContext()
	defer cancel()
	return c.finish(newClient(c.opts).get(ctx, "/v1/events", eventQuery(*offer, *after, *limit)))
}

func eventQuery(offer, after uint64, limit int) url.Values {
	query := url.Values{}
	if offer != 0 {
		query.Set("offer", strconv.FormatUint(offer, 10))
	}
	if after != 0 {
		query.Set("after", strconv.FormatUint(after, 10))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return query
}
