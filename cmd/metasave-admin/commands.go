// ABOUTME: Command implementations for metasave-admin
// ABOUTME: Argument parsing and table output for each SaveData operation

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/2389/metasave/internal/api"
	"github.com/2389/metasave/internal/record"
)

// cmdArgs holds the positional arguments and flags of one command.
type cmdArgs struct {
	pos      []string
	route    record.Route
	asInt    bool
	asBase64 bool
	limit    int
	actor    string
	action   string
	game     string
}

var boolFlags = []string{"int", "base64"}

// parseArgs splits args into positionals and the flags named in allowed.
// Both "--flag value" and "--flag=value" are accepted.
func parseArgs(args []string, allowed ...string) (cmdArgs, error) {
	var out cmdArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			out.pos = append(out.pos, arg)
			continue
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !slices.Contains(allowed, name) {
			return out, fmt.Errorf("unknown flag: %s", arg)
		}
		if slices.Contains(boolFlags, name) {
			if hasValue {
				return out, fmt.Errorf("--%s takes no value", name)
			}
		} else if !hasValue {
			if i+1 >= len(args) {
				return out, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}

		switch name {
		case "route":
			r, err := record.ParseRoute(value)
			if err != nil {
				return out, err
			}
			out.route = r
		case "int":
			out.asInt = true
		case "base64":
			out.asBase64 = true
		case "limit":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return out, fmt.Errorf("--limit must be a non-negative number")
			}
			out.limit = n
		case "actor":
			out.actor = value
		case "action":
			out.action = value
		case "game":
			out.game = value
		}
	}
	if out.asInt && out.asBase64 {
		return out, fmt.Errorf("--int and --base64 are mutually exclusive")
	}
	return out, nil
}

// want checks the positional count.
func (c cmdArgs) want(n int, usage string) error {
	if len(c.pos) != n {
		return fmt.Errorf("usage: metasave-admin %s", usage)
	}
	return nil
}

func (c cmdArgs) gameAt(i int) (record.GameID, error) {
	g, err := record.ParseGameID(c.pos[i])
	if err != nil {
		return 0, fmt.Errorf("invalid game %q: %w", c.pos[i], err)
	}
	return g, nil
}

// value encodes the positional value according to --int or --base64.
func (c cmdArgs) value(s string) ([]byte, error) {
	switch {
	case c.asInt:
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid int32 %q", s)
		}
		return record.EncodeInt32(int32(n)), nil
	case c.asBase64:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 value: %w", err)
		}
		return b, nil
	default:
		return []byte(s), nil
	}
}

func (a *admin) ok(format string, args ...any) {
	fmt.Fprintf(a.out, color.GreenString("  ✓ ")+format+"\n", args...)
}

func (a *admin) cmdRegister(ctx context.Context, args []string) error {
	c, err := parseArgs(args)
	if err != nil {
		return err
	}
	if err := c.want(1, "register <game>"); err != nil {
		return err
	}
	game, err := c.gameAt(0)
	if err != nil {
		return err
	}
	if err := a.client.RegisterGame(ctx, game); err != nil {
		return err
	}
	a.ok("Registered game %s", game)
	return nil
}

func (a *admin) cmdGrant(ctx context.Context, args []string) error {
	c, err := parseArgs(args)
	if err != nil {
		return err
	}
	if len(c.pos) == 2 {
		c.pos = append(c.pos, record.AccessExternal.String())
	}
	if err := c.want(3, "grant <game> <account> [external|internal_external]"); err != nil {
		return err
	}
	game, err := c.gameAt(0)
	if err != nil {
		return err
	}
	access, err := record.ParseAccess(c.pos[2])
	if err != nil {
		return err
	}
	if err := a.client.AddAuthority(ctx, game, record.AccountID(c.pos[1]), access); err != nil {
		return err
	}
	a.ok("Granted %s on game %s to %s", access, game, c.pos[1])
	return nil
}

func (a *admin) cmdRevoke(ctx context.Context, args []string) error {
	c, err := parseArgs(args)
	if err != nil {
		return err
	}
	if err := c.want(2, "revoke <game> <account>"); err != nil {
		return err
	}
	game, err := c.gameAt(0)
	if err != nil {
		return err
	}
	if err := a.client.RemoveAuthority(ctx, game, record.AccountID(c.pos[1])); err != nil {
		return err
	}
	a.ok("Revoked %s on game %s", c.pos[1], game)
	return nil
}

func (a *admin) cmdPerms(ctx context.Context, args []string) error {
	c, err := parseArgs(args)
	if err != nil {
		return err
	}
	account := a.self
	if len(c.pos) == 1 {
		account = record.AccountID(c.pos[0])
	} else if len(c.pos) > 1 {
		return fmt.Errorf("usage: metasave-admin perms [account]")
	}
	if account == "" {
		return fmt.Errorf("no account given and METASAVE_ACCOUNT is not set")
	}

	perms, err := a.client.Permissions(ctx, account)
	if err != nil {
		return err
	}
	if len(perms) == 0 {
		fmt.Fprintf(a.out, "  %s holds no permissions\n", account)
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  GAME\tACCESS")
	fmt.Fprintln(w, "  ----\t------")
	for _, p := range perms {
		fmt.Fprintf(w, "  %s\t%s\n", p.Game, p.Access)
	}
	return w.Flush()
}

func (a *admin) cmdWorld(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: metasave-admin world get|set|rm|add ...")
	}
	sub, rest := args[0], args[1:]
	c, err := parseArgs(rest, "route", "int", "base64")
	if err != nil {
		return err
	}

	switch sub {
	case "get":
		if err := c.want(1, "world get <game> [--route R]"); err != nil {
			return err
		}
		game, err := c.gameAt(0)
		if err != nil {
			return err
		}
		rec, err := a.client.WorldRecord(ctx, game, c.route)
		if err != nil {
			return err
		}
		return a.printRecord(rec)

	case "set":
		if err := c.want(3, "world set <game> <key> <value> [--int|--base64] [--route R]"); err != nil {
			return err
		}
		game, err := c.gameAt(0)
		if err != nil {
			return err
		}
		value, err := c.value(c.pos[2])
		if err != nil {
			return err
		}
		entry := record.DataEntry{Key: []byte(c.pos[1]), Value: value}
		if err := a.client.UpdateWorldRecord(ctx, game, c.route, entry); err != nil {
			return err
		}
		a.ok("Set %s on game %s (%s)", c.pos[1], game, c.route)
		return nil

	case "rm":
		if err := c.want(2, "world rm <game> <key> [--route R]"); err != nil {
			return err
		}
		game, err := c.gameAt(0)
		if err != nil {
			return err
		}
		if err := a.client.RemoveWorldRecord(ctx, game, c.route, []byte(c.pos[1])); err != nil {
			return err
		}
		a.ok("Removed %s from game %s (%s)", c.pos[1], game, c.route)
		return nil

	case "add":
		if err := c.want(3, "world add <game> <key> <delta> [--route R]"); err != nil {
			return err
		}
		game, err := c.gameAt(0)
		if err != nil {
			return err
		}
		delta, err := strconv.ParseInt(c.pos[2], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid delta %q", c.pos[2])
		}
		if err := a.client.ModWorldRecord(ctx, game, c.route, []byte(c.pos[1]), int32(delta)); err != nil {
			return err
		}
		a.ok("Added %d to %s on game %s (%s)", delta, c.pos[1], game, c.route)
		return nil

	default:
		return fmt.Errorf("unknown world subcommand: %s", sub)
	}
}

func (a *admin) cmdUser(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: metasave-admin user get|set|rm ...")
	}
	sub, rest := args[0], args[1:]
	c, err := parseArgs(rest, "route", "int", "base64")
	if err != nil {
		return err
	}

	switch sub {
	case "get":
		if err := c.want(2, "user get <game> <user> [--route R]"); err != nil {
			return err
		}
		game, err := c.gameAt(0)
		if err != nil {
			return err
		}
		rec, err := a.client.UserRecord(ctx, game, record.AccountID(c.pos[1]), c.route)
		if err != nil {
			return err
		}
		return a.printRecord(rec)

	case "set":
		if err := c.want(4, "user set <game> <user> <key> <value> [--int|--base64] [--route R]"); err != nil {
			return err
		}
		game, err := c.gameAt(0)
		if err != nil {
			return err
		}
		value, err := c.value(c.pos[3])
		if err != nil {
			return err
		}
		entry := record.DataEntry{Key: []byte(c.pos[2]), Value: value}
		if err := a.client.UpdateUserRecord(ctx, game, record.AccountID(c.pos[1]), c.route, entry); err != nil {
			return err
		}
		a.ok("Set %s for %s on game %s (%s)", c.pos[2], c.pos[1], game, c.route)
		return nil

	case "rm":
		if err := c.want(3, "user rm <game> <user> <key> [--route R]"); err != nil {
			return err
		}
		game, err := c.gameAt(0)
		if err != nil {
			return err
		}
		if err := a.client.RemoveUserRecord(ctx, game, record.AccountID(c.pos[1]), c.route, []byte(c.pos[2])); err != nil {
			return err
		}
		a.ok("Removed %s for %s on game %s (%s)", c.pos[2], c.pos[1], game, c.route)
		return nil

	default:
		return fmt.Errorf("unknown user subcommand: %s", sub)
	}
}

func (a *admin) cmdEvents(ctx context.Context, args []string) error {
	c, err := parseArgs(args, "limit")
	if err != nil {
		return err
	}
	if err := c.want(1, "events <game> [--limit N]"); err != nil {
		return err
	}
	game, err := c.gameAt(0)
	if err != nil {
		return err
	}

	events, err := a.client.Events(ctx, game, c.limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(a.out, "  No events")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SEQ\tTYPE\tROUTE\tACTOR\tKEY\tVALUE\tAT")
	fmt.Fprintln(w, "  ---\t----\t-----\t-----\t---\t-----\t--")
	for _, e := range events {
		key, value := wireEntry(e.Entry)
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence, e.Type, e.Route, e.Actor, key, value, e.CreatedAt.Format("Jan 02 15:04:05"))
	}
	return w.Flush()
}

func (a *admin) cmdAudit(ctx context.Context, args []string) error {
	c, err := parseArgs(args, "actor", "action", "game", "limit")
	if err != nil {
		return err
	}
	if err := c.want(0, "audit [--actor A] [--action X] [--game G] [--limit N]"); err != nil {
		return err
	}

	entries, err := a.client.Audit(ctx, api.AuditRequest{
		Actor:  record.AccountID(c.actor),
		Action: c.action,
		Game:   c.game,
		Limit:  c.limit,
	})
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "  No audit entries")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SEQ\tACTION\tACTOR\tGAME\tTARGET\tAT")
	fmt.Fprintln(w, "  ---\t------\t-----\t----\t------\t--")
	for _, e := range entries {
		target := string(e.Target)
		if target == "" {
			target = "-"
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence, e.Action, e.Actor, e.Game, target, e.Timestamp.Format("Jan 02 15:04:05"))
	}
	return w.Flush()
}

func (a *admin) printRecord(rec record.DataRecord) error {
	if len(rec) == 0 {
		fmt.Fprintln(a.out, "  (empty)")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  KEY\tVALUE\tINT32")
	fmt.Fprintln(w, "  ---\t-----\t-----")
	for _, e := range rec {
		n := "-"
		if v, err := record.DecodeInt32(e.Value); err == nil {
			n = strconv.Itoa(int(v))
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", display(e.Key), display(e.Value), n)
	}
	return w.Flush()
}

// display renders b as text when it is printable UTF-8, else as base64.
func display(b []byte) string {
	if utf8.Valid(b) && strings.IndexFunc(string(b), func(r rune) bool { return !unicode.IsPrint(r) }) < 0 {
		return strconv.Quote(string(b))
	}
	return "base64:" + base64.StdEncoding.EncodeToString(b)
}

// wireEntry decodes an event entry for display.
func wireEntry(e api.Entry) (string, string) {
	d, err := e.DataEntry()
	if err != nil {
		return e.Key, e.Value
	}
	if e.AsInt32 != nil {
		return display(d.Key), strconv.Itoa(int(*e.AsInt32))
	}
	return display(d.Key), display(d.Value)
}
