// Package bridge lets a trusted chat-bot peer assert external identities.
//
// The bot and the server share a symmetric key through a key file: written on
// first use, read by the bot to sign assertions, and removed again on
// shutdown. An assertion is a short-lived signed token naming the external
// subject; the server exchanges it for a local login session, creating the
// local account on first sight.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gatehouse-auth/gatehouse/token"
)

const (
	// AssertionTTL is how long an issued identity assertion stays valid.
	AssertionTTL = 10 * time.Minute

	issuer = "gatehouse-bridge"

	keyFileMode = os.FileMode(0o600)
)

var (
	// ErrExpired indicates a well-formed assertion past its validity window.
	// Callers surface this distinctly so users learn to request a fresh one.
	ErrExpired = errors.New("bridge: assertion expired")

	// ErrInvalid indicates a malformed, forged, or foreign assertion.
	ErrInvalid = errors.New("bridge: invalid assertion")
)

// Identity is the external subject carried inside an assertion.
type Identity struct {
	SubjectID uint64 `json:"subject_id"`
	Name      string `json:"name"`
}

// Bridge issues and verifies identity assertions against a key persisted on
// disk. Safe for concurrent use.
type Bridge struct {
	codec   *token.Codec[Identity]
	keyPath string
	logger  *slog.Logger
}

// Open loads the signing key from keyPath, generating and persisting a fresh
// one when the file does not exist. The file is written with owner-only
// permissions; the bot peer reads the same file to sign its assertions.
func Open(keyPath string, logger *slog.Logger) (*Bridge, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("key path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	key, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		codec, err := token.NewWithKey[Identity](issuer, AssertionTTL, key)
		if err != nil {
			return nil, fmt.Errorf("load bridge key: %w", err)
		}
		logger.Info("Loaded bridge signing key", "path", keyPath)
		return &Bridge{codec: codec, keyPath: keyPath, logger: logger}, nil

	case errors.Is(err, os.ErrNotExist):
		codec, err := token.New[Identity](issuer, AssertionTTL)
		if err != nil {
			return nil, fmt.Errorf("generate bridge key: %w", err)
		}
		if err := os.WriteFile(keyPath, codec.Key(), keyFileMode); err != nil {
			return nil, fmt.Errorf("persist bridge key: %w", err)
		}
		logger.Info("Generated new bridge signing key", "path", keyPath)
		return &Bridge{codec: codec, keyPath: keyPath, logger: logger}, nil

	default:
		return nil, fmt.Errorf("read bridge key: %w", err)
	}
}

// Close removes the key file. Assertions signed against the removed key stop
// verifying once a new key is generated on the next start.
func (b *Bridge) Close() error {
	if err := os.Remove(b.keyPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove bridge key: %w", err)
	}
	return nil
}

// WithClock returns a copy of the bridge using the given time source.
func (b *Bridge) WithClock(now func() time.Time) *Bridge {
	clone := *b
	clone.codec = b.codec.WithClock(now)
	return &clone
}

// Issue signs an assertion for the external subject.
func (b *Bridge) Issue(subjectID uint64, name string) (string, error) {
	return b.codec.Encode(Identity{SubjectID: subjectID, Name: name})
}

// Verify validates an assertion and returns the identity it names.
// Expiry is reported as ErrExpired; every other failure collapses into
// ErrInvalid so callers cannot probe signature internals.
func (b *Bridge) Verify(tok string) (Identity, error) {
	identity, err := b.codec.Decode(tok)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return Identity{}, ErrExpired
		}
		return Identity{}, ErrInvalid
	}
	return identity, nil
}
