// Package tokenstore provides persistent storage backends for cached token entries.
//
// Every backend persists the whole entry set on each write (read-entire,
// write-entire) and offers the same load/add/remove/clear semantics:
//   - File: one JSON document with atomic writes and owner-only permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//   - CredentialManager: an external credential-manager helper program
//   - Env: read-only entries from an environment variable (CI usage)
//
// A store that does not exist yet reads as an empty set. No backend locks
// across processes; concurrent writers may lose updates.
package tokenstore
