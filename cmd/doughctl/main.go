package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"dough/services/doughd/auth"
)

type cli struct {
	stdout      io.Writer
	stderr      io.Writer
	profilePath string
	profile     profile
	secrets     *secretSource
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doughctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	profilePath := fs.String("profile", defaultProfilePath(), "path to the doughctl TOML profile")
	endpoint := fs.String("endpoint", "", "doughd base URL (overrides the profile)")
	token := fs.String("token", "", "bearer token (overrides the profile)")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	p, err := loadProfile(*profilePath)
	if err != nil {
		return fail(stderr, err)
	}
	if *endpoint != "" {
		p.Endpoint = *endpoint
	}
	if *token != "" {
		p.Token = *token
	}
	c := &cli{
		stdout:      stdout,
		stderr:      stderr,
		profilePath: *profilePath,
		profile:     p,
		secrets:     &secretSource{envVar: secretEnv},
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "init":
		err = c.runInit(cmdArgs)
	case "token":
		err = c.runToken(cmdArgs)
	case "stats":
		err = c.get(ctx, "/v1/stats")
	case "strategies":
		err = c.get(ctx, "/v1/strategies")
	case "breakdown":
		err = c.get(ctx, "/v1/breakdown")
	case "treasury":
		err = c.get(ctx, "/v1/treasury")
	case "account":
		err = c.runAccount(ctx, cmdArgs)
	case "approve":
		err = c.runAmount(ctx, "approve", "/v1/approve", cmdArgs)
	case "deposit":
		err = c.runDeposit(ctx, cmdArgs)
	case "redeem":
		err = c.runAmount(ctx, "redeem", "/v1/redeem", cmdArgs)
	case "faucet":
		err = c.runFaucet(ctx, cmdArgs)
	case "harvest":
		err = c.post(ctx, "/v1/harvest")
	case "swap-rewards":
		err = c.post(ctx, "/v1/swap-rewards")
	case "contribute":
		err = c.post(ctx, "/v1/contribute")
	case "watch":
		err = c.runWatch(ctx, cmdArgs)
	case "admin":
		err = c.runAdmin(ctx, cmdArgs)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return fail(stderr, err)
	}
	return 0
}

func usage() string {
	return strings.TrimSpace(`
Usage: doughctl [--profile path] [--endpoint url] [--token jwt] <command> [flags]

Commands:
  init        --endpoint --address [--role] [--issuer] [--ttl]   write the profile
  token                                                        print a bearer token
  stats | strategies | breakdown | treasury                    read protocol state
  account     [address]                                        show an account
  approve     --amount N                                       set the vault allowance
  deposit     --amount N [--approve]                           deposit approved base asset
  redeem      --amount N                                       burn claims for base asset
  faucet      --amount N [--to address]                        mint mock base asset
  harvest | swap-rewards | contribute                          keeper operations
  watch       [--types a,b]                                    stream committed events
  admin       fee | slippage | strategies | recipients | routers | path | pause | export
`)
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) address() (common.Address, error) {
	if !common.IsHexAddress(c.profile.Address) {
		return common.Address{}, fmt.Errorf("profile address %q is not set or invalid; run doughctl init", c.profile.Address)
	}
	return common.HexToAddress(c.profile.Address), nil
}

// bearer returns the profile token or mints one with the signing secret.
func (c *cli) bearer() (string, error) {
	if c.profile.Token != "" {
		return c.profile.Token, nil
	}
	addr, err := c.address()
	if err != nil {
		return "", err
	}
	ttl, err := c.profile.ttl()
	if err != nil {
		return "", err
	}
	secret, err := c.secrets.Get()
	if err != nil {
		return "", err
	}
	return auth.Issue(secret, c.profile.Issuer, addr, c.profile.Role, ttl)
}

func (c *cli) client() (*client, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}
	return newClient(c.profile.Endpoint, token), nil
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) runInit(args []string) error {
	fs := c.flagSet("init")
	endpoint := fs.String("endpoint", c.profile.Endpoint, "doughd base URL")
	address := fs.String("address", c.profile.Address, "caller address (0x-prefixed hex)")
	role := fs.String("role", c.profile.Role, "role claim: user, keeper or admin")
	issuer := fs.String("issuer", c.profile.Issuer, "token issuer")
	ttl := fs.String("ttl", c.profile.TokenTTL, "token lifetime, e.g. 15m")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*address) {
		return fmt.Errorf("--address %q is not a hex address", *address)
	}
	next := profile{
		Endpoint: *endpoint,
		Address:  common.HexToAddress(*address).Hex(),
		Role:     *role,
		Issuer:   *issuer,
		TokenTTL: *ttl,
	}
	if _, err := next.ttl(); err != nil {
		return err
	}
	if err := writeProfile(c.profilePath, next); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	fmt.Fprintf(c.stdout, "Profile written to %s\n", c.profilePath)
	return nil
}

func (c *cli) runToken(args []string) error {
	if err := c.flagSet("token").Parse(args); err != nil {
		return err
	}
	token, err := c.bearer()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, token)
	return nil
}
