// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR encoding used on the hook endpoint. Host shims
// that already speak CBOR (Content-Type: application/cbor) post
// registration events in CBOR instead of JSON; the decoded values are the
// same Go structs.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2). Types that
// implement encoding.TextMarshaler (ref.UserID, ref.RoomID) travel as
// CBOR text strings.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ContentType is the media type for CBOR request and response bodies.
const ContentType = "application/cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
