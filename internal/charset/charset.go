// SPDX-License-Identifier: MPL-2.0

// Package charset converts source files between their on-disk encoding and
// the UTF-8 text the scanner works on.
package charset

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "UTF-8"

var (
	// ErrUnknownEncoding is returned for names absent from the IANA index.
	ErrUnknownEncoding = errors.New("unknown encoding")
	// ErrUnsupportedEncoding is returned for IANA names x/text cannot convert.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

// Codec converts between one named encoding and UTF-8. It is safe for
// concurrent use.
type Codec struct {
	name string
	enc  encoding.Encoding
	utf8 bool
}

// Lookup returns the Codec for an IANA encoding name such as "UTF-8",
// "ISO-8859-1" or "windows-1252". An empty name selects UTF-8.
func Lookup(name string) (*Codec, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultEncoding
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
	canonical, err := ianaindex.IANA.Name(enc)
	if err != nil {
		canonical = name
	}
	return &Codec{name: canonical, enc: enc, utf8: enc == unicode.UTF8 || strings.EqualFold(canonical, DefaultEncoding)}, nil
}

// Name returns the canonical IANA name of the encoding.
func (c *Codec) Name() string {
	return c.name
}

// Decode converts raw file bytes to UTF-8 text. UTF-8 input is passed
// through unchanged so that invalid sequences survive a round trip.
func (c *Codec) Decode(data []byte) (string, error) {
	if c.utf8 {
		return string(data), nil
	}
	out, err := c.enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", c.name, err)
	}
	return string(out), nil
}

// Encode converts UTF-8 text back to the file encoding. Characters the
// encoding cannot represent are an error.
func (c *Codec) Encode(text string) ([]byte, error) {
	if c.utf8 {
		return []byte(text), nil
	}
	out, err := c.enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.name, err)
	}
	return out, nil
}
