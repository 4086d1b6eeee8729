// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed stores the homeserver admin token at rest encrypted with
// age (filippo.io/age). A sealed token file holds standard base64 of the
// age ciphertext; it is opened with an x25519 identity file kept next to
// the service's other credentials.
//
// Plaintext and private keys are only ever held in [secret.Buffer] memory.
package sealed

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/bureau-foundation/regmonitor/lib/secret"
)

// Seal encrypts plaintext to the given age public keys (age1...) and
// returns base64 ciphertext suitable for writing to a token file.
func Seal(plaintext []byte, recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return "", fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Open decrypts base64 ciphertext with the age identity held in
// privateKey. privateKey is borrowed, not closed. The caller owns the
// returned buffer.
func Open(ciphertext string, privateKey *secret.Buffer) (*secret.Buffer, error) {
	identity, err := age.ParseX25519Identity(strings.TrimSpace(privateKey.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("decoding base64 ciphertext: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}

	trimmed := bytes.TrimSpace(plaintext)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("sealed secret is empty")
	}
	buffer, err := secret.NewFromBytes(trimmed)
	secret.Zero(plaintext)
	if err != nil {
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

// OpenFile reads a sealed token file and decrypts it with the identity
// stored in identityPath.
func OpenFile(path, identityPath string) (*secret.Buffer, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sealed file: %w", err)
	}

	identity, err := secret.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading age identity: %w", err)
	}
	defer identity.Close()

	buffer, err := Open(string(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return buffer, nil
}

// GenerateIdentity creates a new x25519 keypair. The private key is
// returned in protected memory; the public key is safe to publish.
func GenerateIdentity() (privateKey *secret.Buffer, publicKey string, err error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, "", fmt.Errorf("generating age keypair: %w", err)
	}
	privateKey, err = secret.NewFromString(identity.String())
	if err != nil {
		return nil, "", fmt.Errorf("protecting private key: %w", err)
	}
	return privateKey, identity.Recipient().String(), nil
}
