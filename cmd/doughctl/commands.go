package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"nhooyr.io/websocket"

	"dough/services/doughd/api"
)

func (c *cli) get(ctx context.Context, path string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := cl.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return err
	}
	return c.print(out)
}

func (c *cli) post(ctx context.Context, path string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	var out json.RawMessage
	if err := cl.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		fmt.Fprintln(c.stdout, "ok")
		return nil
	}
	return c.print(out)
}

func (c *cli) runAccount(ctx context.Context, args []string) error {
	target := c.profile.Address
	if len(args) > 0 {
		target = args[0]
	}
	if target == "" {
		return fmt.Errorf("account address required")
	}
	return c.get(ctx, "/v1/accounts/"+url.PathEscape(target))
}

func (c *cli) runAmount(ctx context.Context, name, path string, args []string) error {
	fs := c.flagSet(name)
	amount := fs.String("amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*amount) == "" {
		return fmt.Errorf("--amount is required")
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	var out api.AmountResponse
	if err := cl.do(ctx, http.MethodPost, path, api.AmountRequest{Amount: *amount}, &out); err != nil {
		return err
	}
	return c.print(out)
}

func (c *cli) runDeposit(ctx context.Context, args []string) error {
	fs := c.flagSet("deposit")
	amount := fs.String("amount", "", "amount in base units")
	approve := fs.Bool("approve", false, "approve the vault for amount in the same operation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*amount) == "" {
		return fmt.Errorf("--amount is required")
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	var out api.AmountResponse
	if err := cl.do(ctx, http.MethodPost, "/v1/deposit", api.DepositRequest{Amount: *amount, Approve: *approve}, &out); err != nil {
		return err
	}
	return c.print(out)
}

func (c *cli) runFaucet(ctx context.Context, args []string) error {
	fs := c.flagSet("faucet")
	amount := fs.String("amount", "", "amount in base units")
	to := fs.String("to", "", "recipient (defaults to the caller)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*amount) == "" {
		return fmt.Errorf("--amount is required")
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	var out api.AmountResponse
	if err := cl.do(ctx, http.MethodPost, "/v1/faucet", api.FaucetRequest{To: *to, Amount: *amount}, &out); err != nil {
		return err
	}
	return c.print(out)
}

func (c *cli) runWatch(ctx context.Context, args []string) error {
	fs := c.flagSet("watch")
	types := fs.String("types", "", "comma-separated event types to keep")
	if err := fs.Parse(args); err != nil {
		return err
	}
	token, err := c.bearer()
	if err != nil {
		return err
	}
	wsURL := strings.TrimRight(c.profile.Endpoint, "/") + "/v1/events"
	wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	if *types != "" {
		wsURL += "?types=" + url.QueryEscape(*types)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		fmt.Fprintln(c.stdout, string(data))
	}
}

func (c *cli) runAdmin(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("admin subcommand required: fee, slippage, strategies, recipients, routers, path, pause or export")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "fee":
		fs := c.flagSet("admin fee")
		bps := fs.Uint64("bps", 0, "mint fee in basis points")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return c.put(ctx, "/v1/admin/fee", api.FeeRequest{FeeBps: *bps})
	case "slippage":
		fs := c.flagSet("admin slippage")
		bps := fs.Uint64("bps", 0, "swap slippage tolerance in basis points")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return c.put(ctx, "/v1/admin/slippage", api.SlippageRequest{SlippageBps: *bps})
	case "strategies":
		fs := c.flagSet("admin strategies")
		set := fs.String("set", "", "strategy table as id=bps,id=bps")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		rows, err := parseAllocations(*set)
		if err != nil {
			return err
		}
		return c.put(ctx, "/v1/admin/strategies", api.StrategiesRequest{Strategies: rows})
	case "recipients":
		fs := c.flagSet("admin recipients")
		set := fs.String("set", "", "recipient table as address=bps[:label],...")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		rows, err := parseRecipients(*set)
		if err != nil {
			return err
		}
		return c.put(ctx, "/v1/admin/recipients", api.RecipientsRequest{Recipients: rows})
	case "routers":
		fs := c.flagSet("admin routers")
		primary := fs.String("primary", "", "primary router name")
		fallback := fs.String("fallback", "", "fallback router name")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return c.put(ctx, "/v1/admin/routers", api.RoutersRequest{Primary: *primary, Fallback: *fallback})
	case "path":
		fs := c.flagSet("admin path")
		token := fs.String("token", "", "reward token address")
		tokens := fs.String("tokens", "", "hop tokens, comma separated")
		fees := fs.String("fees", "", "pool fee tiers between hops, comma separated")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		tiers, err := parseFees(*fees)
		if err != nil {
			return err
		}
		return c.put(ctx, "/v1/admin/path", api.PathRequest{Token: *token, Tokens: splitList(*tokens), Fees: tiers})
	case "pause":
		fs := c.flagSet("admin pause")
		module := fs.String("module", "", "module: vault, controller or treasury")
		resume := fs.Bool("resume", false, "clear the pause flag instead of setting it")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return c.put(ctx, "/v1/admin/pause", api.PauseRequest{Module: *module, Paused: !*resume})
	case "export":
		return c.runExport(ctx, rest)
	default:
		return fmt.Errorf("unknown admin subcommand %q", sub)
	}
}

func (c *cli) put(ctx context.Context, path string, body any) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := cl.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, "ok")
	return nil
}

func (c *cli) runExport(ctx context.Context, args []string) error {
	fs := c.flagSet("admin export")
	out := fs.String("out", "dough-audit.parquet", "output file")
	typ := fs.String("type", "", "event type filter")
	account := fs.String("account", "", "account filter")
	since := fs.String("since", "", "RFC 3339 lower bound")
	limit := fs.Int("limit", 0, "maximum records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := url.Values{}
	for k, v := range map[string]string{"type": *typ, "account": *account, "since": *since} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if *limit > 0 {
		q.Set("limit", strconv.Itoa(*limit))
	}
	path := "/v1/admin/audit/export"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	data, header, err := cl.raw(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Wrote %s records to %s\n", header.Get("X-Record-Count"), *out)
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAllocations(raw string) ([]api.Allocation, error) {
	var rows []api.Allocation
	for _, part := range splitList(raw) {
		id, bps, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("strategy %q: want id=bps", part)
		}
		weight, err := strconv.ParseUint(strings.TrimSpace(bps), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", part, err)
		}
		rows = append(rows, api.Allocation{Strategy: strings.TrimSpace(id), WeightBps: weight})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("--set is required")
	}
	return rows, nil
}

func parseRecipients(raw string) ([]api.Recipient, error) {
	var rows []api.Recipient
	for _, part := range splitList(raw) {
		addr, rest, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("recipient %q: want address=bps[:label]", part)
		}
		bps, label, _ := strings.Cut(rest, ":")
		weight, err := strconv.ParseUint(strings.TrimSpace(bps), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("recipient %q: %w", part, err)
		}
		rows = append(rows, api.Recipient{Address: strings.TrimSpace(addr), WeightBps: weight, Label: strings.TrimSpace(label)})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("--set is required")
	}
	return rows, nil
}

func parseFees(raw string) ([]uint32, error) {
	var out []uint32
	for _, part := range splitList(raw) {
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("fee tier %q: %w", part, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}
