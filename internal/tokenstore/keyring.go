package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/zalando/go-keyring"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/credcache/internal/codec"
	"github.com/florianilch/credcache/internal/entry"
)

const (
	keyringBackend = "keyring"

	// keyringIndexUser is the account holding the list of item ids.
	keyringIndexUser = "index"

	// keyringConcurrency bounds parallel keyring lookups; each one may spawn a
	// platform security tool.
	keyringConcurrency = 4
)

// KeyringStore provides OS-native secure credential storage for entries.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
//
// Each entry is one keyring item (account = random id, secret = encoded
// entry). An index item lists the ids in order.
type KeyringStore struct {
	service string
}

// Compile-time check to ensure KeyringStore implements TokenStore
var _ TokenStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore scoped to the given service name.
func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	return &KeyringStore{
		service: service,
	}, nil
}

type keyringItem struct {
	id    string
	line  string
	entry entry.Entry
}

// LoadEntries returns the entries listed in the index. A missing index is an
// empty store; items missing from the keyring or not decodable are skipped.
func (k *KeyringStore) LoadEntries(ctx context.Context) (entry.Set, error) {
	items, err := k.loadItems(ctx)
	if err != nil {
		return nil, err
	}

	entries := make(entry.Set, 0, len(items))
	for _, item := range items {
		if item.entry != nil {
			entries = append(entries, item.entry)
		}
	}
	return entries, nil
}

// AddEntries implements TokenStore.
func (k *KeyringStore) AddEntries(ctx context.Context, newEntries, removeFirst entry.Set) error {
	return addEntries(ctx, k, newEntries, removeFirst)
}

// RemoveEntries implements TokenStore.
func (k *KeyringStore) RemoveEntries(ctx context.Context, _, toKeep entry.Set) error {
	return removeEntries(ctx, k, toKeep)
}

// Clear implements TokenStore.
func (k *KeyringStore) Clear(ctx context.Context) error {
	return k.saveEntries(ctx, entry.Set{})
}

func (k *KeyringStore) readIndex(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := keyring.Get(k.service, keyringIndexUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, id := range strings.Split(raw, "\n") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (k *KeyringStore) loadItems(ctx context.Context) ([]keyringItem, error) {
	ids, err := k.readIndex(ctx)
	if err != nil {
		return nil, readError(keyringBackend, err)
	}

	results := make([]*keyringItem, len(ids))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(keyringConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			line, err := keyring.Get(k.service, id)
			if errors.Is(err, keyring.ErrNotFound) {
				slog.WarnContext(gCtx, "keyring item listed in index is missing", "service", k.service, "id", id)
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading item %s: %w", id, err)
			}

			// an undecodable item stays listed with a nil entry so the next
			// write deletes it
			e, err := codec.DecodeEntryValues(line)
			if err != nil {
				slog.WarnContext(gCtx, "skipping undecodable keyring item", "service", k.service, "id", id, "error", err)
			}
			results[i] = &keyringItem{id: id, line: line, entry: e}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, readError(keyringBackend, err)
	}

	items := make([]keyringItem, 0, len(results))
	for _, item := range results {
		if item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}

// saveEntries writes new items, then the index, then deletes items the index
// no longer references. A crash before the index write leaves the previous
// set intact.
func (k *KeyringStore) saveEntries(ctx context.Context, entries entry.Set) error {
	existing, err := k.loadItems(ctx)
	if err != nil {
		return writeError(keyringBackend, err)
	}

	reusable := make(map[string][]string, len(existing))
	for _, item := range existing {
		if item.entry != nil {
			reusable[item.line] = append(reusable[item.line], item.id)
		}
	}

	ids := make([]string, 0, len(entries))
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		line := codec.EncodeEntry(e)
		if free := reusable[line]; len(free) > 0 {
			ids = append(ids, free[0])
			keep[free[0]] = true
			reusable[line] = free[1:]
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		id := uuid.NewString()
		if err := keyring.Set(k.service, id, line); err != nil {
			return writeError(keyringBackend, fmt.Errorf("writing item: %w", err))
		}
		ids = append(ids, id)
		keep[id] = true
	}

	if len(ids) == 0 {
		err = keyring.Delete(k.service, keyringIndexUser)
		if errors.Is(err, keyring.ErrNotFound) {
			err = nil
		}
	} else {
		err = keyring.Set(k.service, keyringIndexUser, strings.Join(ids, "\n"))
	}
	if err != nil {
		return writeError(keyringBackend, fmt.Errorf("writing index: %w", err))
	}

	var staleErr *multierror.Error
	for _, item := range existing {
		if keep[item.id] {
			continue
		}
		if err := keyring.Delete(k.service, item.id); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			staleErr = multierror.Append(staleErr, fmt.Errorf("item %s: %w", item.id, err))
		}
	}
	if err := staleErr.ErrorOrNil(); err != nil {
		// index is already consistent; leftovers are unreachable
		slog.WarnContext(ctx, "failed to delete stale keyring items", "service", k.service, "error", err)
	}

	return nil
}
