// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SignaturePrefix precedes the hex digest in signature headers.
const SignaturePrefix = "sha256="

// SignBody returns the "sha256=<hex>" HMAC-SHA256 signature of body.
// Host shims compute the same value over the exact bytes they send.
func SignBody(key, body []byte) string {
	return SignaturePrefix + hex.EncodeToString(bodyMAC(key, body))
}

// VerifyBodyHMAC checks signature against body. The prefix is optional.
// Returned errors are safe to log: they never contain the expected
// digest.
func VerifyBodyHMAC(key, body []byte, signature string) error {
	switch {
	case len(key) == 0:
		return errors.New("body HMAC: secret is empty")
	case len(body) == 0:
		return errors.New("body HMAC: body is empty")
	case signature == "":
		return errors.New("body HMAC: signature is empty")
	}

	presented, err := hex.DecodeString(strings.TrimPrefix(signature, SignaturePrefix))
	if err != nil {
		return fmt.Errorf("body HMAC: invalid hex signature: %w", err)
	}
	if !hmac.Equal(bodyMAC(key, body), presented) {
		return errors.New("body HMAC: signature mismatch")
	}
	return nil
}

func bodyMAC(key, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return mac.Sum(nil)
}
