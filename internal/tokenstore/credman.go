package tokenstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/florianilch/credcache/internal/codec"
	"github.com/florianilch/credcache/internal/credparse"
	"github.com/florianilch/credcache/internal/entry"
	"github.com/florianilch/credcache/internal/execrunner"
)

const credmanBackend = "credential manager"

// DefaultTargetPrefix namespaces this cache's targets in the OS credential store.
const DefaultTargetPrefix = "credcache:target="

// Helper operations. The helper receives the operation followed by flags:
//
//	list   -t <prefix>* -s      prints all matching targets with secrets
//	add    -t <target>          reads the hex encoded credential from stdin
//	delete -t <target>
const (
	helperOpList   = "list"
	helperOpAdd    = "add"
	helperOpDelete = "delete"

	helperFlagTarget      = "-t"
	helperFlagShowSecrets = "-s"
)

// defaultSecretFields are stored in the credential blob rather than the
// target name, which the OS shows in plain text.
var defaultSecretFields = []string{entry.FieldAccessToken, entry.FieldRefreshToken}

// CredentialManagerStore persists entries through an external credential
// manager helper. Each entry becomes one target: non-secret fields are
// encoded into the target name, secret fields into the credential.
type CredentialManagerStore struct {
	runner       execrunner.Runner
	prefix       string
	secretFields []string
}

// Compile-time check to ensure CredentialManagerStore implements TokenStore
var _ TokenStore = (*CredentialManagerStore)(nil)

// CredentialManagerOption configures a CredentialManagerStore.
type CredentialManagerOption func(*CredentialManagerStore)

// WithTargetPrefix overrides DefaultTargetPrefix.
func WithTargetPrefix(prefix string) CredentialManagerOption {
	return func(c *CredentialManagerStore) {
		c.prefix = prefix
	}
}

// WithSecretFields overrides which fields go into the credential blob.
func WithSecretFields(fields ...string) CredentialManagerOption {
	return func(c *CredentialManagerStore) {
		c.secretFields = fields
	}
}

// NewCredentialManagerStore creates a store talking to the helper behind runner.
func NewCredentialManagerStore(runner execrunner.Runner, opts ...CredentialManagerOption) (*CredentialManagerStore, error) {
	if runner == nil {
		return nil, fmt.Errorf("missing helper runner")
	}

	c := &CredentialManagerStore{
		runner:       runner,
		prefix:       DefaultTargetPrefix,
		secretFields: defaultSecretFields,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.prefix == "" {
		return nil, fmt.Errorf("target prefix cannot be empty")
	}
	return c, nil
}

type credmanTarget struct {
	name       string
	credential string
}

// LoadEntries lists every target in the namespace and decodes it.
func (c *CredentialManagerStore) LoadEntries(ctx context.Context) (entry.Set, error) {
	targets, err := c.listTargets(ctx)
	if err != nil {
		return nil, err
	}

	entries := make(entry.Set, 0, len(targets))
	for _, t := range targets {
		e, err := c.decodeTarget(t)
		if err != nil {
			slog.WarnContext(ctx, "skipping undecodable credential target", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AddEntries implements TokenStore.
func (c *CredentialManagerStore) AddEntries(ctx context.Context, newEntries, removeFirst entry.Set) error {
	return addEntries(ctx, c, newEntries, removeFirst)
}

// RemoveEntries implements TokenStore.
func (c *CredentialManagerStore) RemoveEntries(ctx context.Context, _, toKeep entry.Set) error {
	return removeEntries(ctx, c, toKeep)
}

// Clear implements TokenStore.
func (c *CredentialManagerStore) Clear(ctx context.Context) error {
	return c.saveEntries(ctx, entry.Set{})
}

func (c *CredentialManagerStore) listTargets(ctx context.Context) ([]credmanTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := c.runner.Run(ctx, nil, helperOpList, helperFlagTarget, c.prefix+"*", helperFlagShowSecrets)
	if err != nil {
		return nil, readError(credmanBackend, err)
	}

	records, err := credparse.Records(bytes.NewReader(out), c.prefix)
	if err != nil {
		return nil, readError(credmanBackend, err)
	}

	targets := make([]credmanTarget, 0, len(records))
	for _, rec := range records {
		t := credmanTarget{name: rec.TargetName}
		if rec.Credential != nil {
			secret, err := hex.DecodeString(*rec.Credential)
			if err != nil {
				slog.WarnContext(ctx, "skipping credential target with malformed secret", "error", err)
				continue
			}
			t.credential = string(secret)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// saveEntries diffs the wanted targets against the listed ones: missing
// targets are added first, obsolete ones deleted last, so a failed run never
// loses an entry that was meant to survive.
func (c *CredentialManagerStore) saveEntries(ctx context.Context, entries entry.Set) error {
	wanted := make(map[string]credmanTarget, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := codec.CheckSingleLine(e); err != nil {
			return writeError(credmanBackend, err)
		}
		t := c.encodeTarget(e)
		if _, dup := wanted[t.name]; !dup {
			order = append(order, t.name)
		}
		// same metadata means same target; the last credential wins
		wanted[t.name] = t
	}

	current, err := c.listTargets(ctx)
	if err != nil {
		return writeError(credmanBackend, err)
	}

	existing := make(map[string]credmanTarget, len(current))
	for _, t := range current {
		existing[t.name] = t
	}

	for _, name := range order {
		t := wanted[name]
		if e, ok := existing[name]; ok && e.credential == t.credential {
			continue
		}
		stdin := strings.NewReader(hex.EncodeToString([]byte(t.credential)))
		if _, err := c.runner.Run(ctx, stdin, helperOpAdd, helperFlagTarget, t.name); err != nil {
			return writeError(credmanBackend, fmt.Errorf("adding target: %w", err))
		}
	}

	for _, t := range current {
		if _, ok := wanted[t.name]; ok {
			continue
		}
		if _, err := c.runner.Run(ctx, nil, helperOpDelete, helperFlagTarget, t.name); err != nil {
			return writeError(credmanBackend, fmt.Errorf("deleting target: %w", err))
		}
	}

	return nil
}

func (c *CredentialManagerStore) encodeTarget(e entry.Entry) credmanTarget {
	metadata := make(entry.Entry, len(e))
	secrets := make(entry.Entry, len(c.secretFields))
	for key, v := range e {
		if slices.Contains(c.secretFields, key) {
			secrets[key] = v
		} else {
			metadata[key] = v
		}
	}

	return credmanTarget{
		name:       c.prefix + codec.EncodeEntry(metadata),
		credential: codec.EncodeEntry(secrets),
	}
}

func (c *CredentialManagerStore) decodeTarget(t credmanTarget) (entry.Entry, error) {
	fields, err := codec.DecodeEntry(strings.TrimPrefix(t.name, c.prefix))
	if err != nil {
		return nil, fmt.Errorf("target name: %w", err)
	}

	secrets, err := codec.DecodeEntry(t.credential)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	maps.Copy(fields, secrets)

	return entry.FromStrings(fields), nil
}
