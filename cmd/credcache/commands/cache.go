package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/credcache/internal/codec"
	"github.com/florianilch/credcache/internal/entry"
	"github.com/florianilch/credcache/internal/tokencache"
)

const redacted = "********"

// secretFields are hidden in output unless --show-secrets is given.
var secretFields = []string{entry.FieldAccessToken, entry.FieldRefreshToken}

// tokenFields describe a token rather than the identity it was issued for.
var tokenFields = []string{
	entry.FieldAccessToken,
	entry.FieldRefreshToken,
	entry.FieldExpiresOn,
	entry.FieldIsMRRT,
	entry.FieldTokenType,
}

type cacheAction func(ctx context.Context, cmd *cli.Command, cache *tokencache.Cache) error

// withCache runs action against the configured cache and flushes logging afterwards.
func withCache(environFunc func() []string, action cacheAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		application, shutdown, err := setup(ctx, cmd, environFunc)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, shutdown(context.WithoutCancel(ctx)))
		}()

		return action(ctx, cmd, application.Cache())
	}
}

func entryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "field",
			Aliases: []string{"f"},
			Usage:   "string field as key=value (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "bool",
			Usage: "boolean field as key=true|false (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "time",
			Usage: "timestamp field as key=RFC3339 (repeatable)",
		},
	}
}

func showSecretsFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "show-secrets",
		Usage: "print access and refresh tokens instead of redacting them",
	}
}

func listCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "print every cached entry",
		Flags: []cli.Flag{showSecretsFlag()},
		Action: withCache(environFunc, func(ctx context.Context, cmd *cli.Command, cache *tokencache.Cache) error {
			entries, err := cache.LoadEntries(ctx)
			if err != nil {
				return fmt.Errorf("loading entries: %w", err)
			}
			return writeEntries(cmd.Root().Writer, entries, cmd.Bool("show-secrets"))
		}),
	}
}

func findCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "print entries matching the given fields (userId is compared case-insensitively)",
		Flags: append(entryFlags(), showSecretsFlag()),
		Action: withCache(environFunc, func(ctx context.Context, cmd *cli.Command, cache *tokencache.Cache) error {
			query, err := entryFromFlags(cmd)
			if err != nil {
				return err
			}

			found, err := cache.Find(ctx, query)
			if err != nil {
				return fmt.Errorf("finding entries: %w", err)
			}
			return writeEntries(cmd.Root().Writer, found, cmd.Bool("show-secrets"))
		}),
	}
}

func addCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "add an entry built from the given fields",
		Flags: append(entryFlags(), &cli.BoolFlag{
			Name:  "replace",
			Usage: "first remove entries for the same identity (all fields except token data)",
		}),
		Action: withCache(environFunc, func(ctx context.Context, cmd *cli.Command, cache *tokencache.Cache) error {
			e, err := entryFromFlags(cmd)
			if err != nil {
				return err
			}
			if len(e) == 0 {
				return errors.New("at least one field is required")
			}

			w := cmd.Root().Writer
			if !cmd.Bool("replace") {
				if err := cache.AddEntries(ctx, entry.Set{e}, nil); err != nil {
					return fmt.Errorf("adding entry: %w", err)
				}
				_, err := fmt.Fprintln(w, "added 1 entry")
				return err
			}

			replaced, err := cache.Replace(ctx, identity(e), e)
			if err != nil {
				return fmt.Errorf("replacing entries: %w", err)
			}
			_, err = fmt.Fprintf(w, "added 1 entry, replaced %d\n", len(replaced))
			return err
		}),
	}
}

func removeCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "remove",
		Usage: "remove entries matching the given fields",
		Flags: entryFlags(),
		Action: withCache(environFunc, func(ctx context.Context, cmd *cli.Command, cache *tokencache.Cache) error {
			query, err := entryFromFlags(cmd)
			if err != nil {
				return err
			}
			if len(query) == 0 {
				return errors.New("at least one field is required, use clear to remove everything")
			}

			removed, err := cache.RemoveMatching(ctx, query)
			if err != nil {
				return fmt.Errorf("removing entries: %w", err)
			}
			_, err = fmt.Fprintf(cmd.Root().Writer, "removed %d entries\n", len(removed))
			return err
		}),
	}
}

func clearCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "remove every cached entry",
		Action: withCache(environFunc, func(ctx context.Context, cmd *cli.Command, cache *tokencache.Cache) error {
			if err := cache.Clear(ctx); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			_, err := fmt.Fprintln(cmd.Root().Writer, "cleared")
			return err
		}),
	}
}

// entryFromFlags builds an entry from --field, --bool and --time.
func entryFromFlags(cmd *cli.Command) (entry.Entry, error) {
	e := entry.Entry{}

	for _, kv := range cmd.StringSlice("field") {
		key, value, err := splitKeyValue(kv)
		if err != nil {
			return nil, err
		}
		e[key] = entry.String(value)
	}

	for _, kv := range cmd.StringSlice("bool") {
		key, value, err := splitKeyValue(kv)
		if err != nil {
			return nil, err
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		e[key] = entry.Bool(b)
	}

	for _, kv := range cmd.StringSlice("time") {
		key, value, err := splitKeyValue(kv)
		if err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		e[key] = entry.Time(t)
	}

	return e, nil
}

func splitKeyValue(kv string) (string, string, error) {
	key, value, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid field %q, expected key=value", kv)
	}
	return key, value, nil
}

// identity strips token data from e, leaving the fields that select it.
func identity(e entry.Entry) entry.Entry {
	query := e.Clone()
	for _, field := range tokenFields {
		delete(query, field)
	}
	return query
}

func redact(e entry.Entry, showSecrets bool) entry.Entry {
	if showSecrets {
		return e
	}
	out := e.Clone()
	for _, field := range secretFields {
		if _, ok := out[field]; ok {
			out[field] = entry.String(redacted)
		}
	}
	return out
}

// writeEntries prints a table on terminals and one encoded entry per line otherwise.
func writeEntries(w io.Writer, entries entry.Set, showSecrets bool) error {
	if !isTerminal(w) {
		for _, e := range entries {
			if _, err := fmt.Fprintln(w, codec.EncodeEntry(redact(e, showSecrets))); err != nil {
				return err
			}
		}
		return nil
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no entries")
		return err
	}

	var keys []string
	for _, e := range entries {
		for _, k := range e.Keys() {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	slices.Sort(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(keys, "\t"))
	for _, e := range entries {
		e = redact(e, showSecrets)
		cells := make([]string, len(keys))
		for i, k := range keys {
			cells[i] = "-"
			if v, ok := e[k]; ok && !v.IsUndefined() {
				cells[i] = v.String()
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
