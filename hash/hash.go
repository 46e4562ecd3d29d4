// Package hash implements the digest primitives the rest of the store is
// built on: streaming digests of bytes and files, the canonical JSON
// encoding used as digest input, and deterministic combination of existing
// digests into a new one.
package hash

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
)

// chunkSize is the streaming copy buffer size used by DigestFile, matching
// the reference implementation's 8 MiB chunks.
const chunkSize = 8 * 1024 * 1024

// DigestBytes returns the SHA-256 digest of buf, formatted as
// "sha256:<hex>".
func DigestBytes(buf []byte) digest.Digest {
	return digest.FromBytes(buf)
}

// DigestFile streams path through SHA-256 and returns its digest.
func DigestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digester := digest.SHA256.Digester()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(digester.Hash(), f, buf); err != nil {
		return "", err
	}
	return digester.Digest(), nil
}

// Combine deterministically combines one or more typed or untyped ids into
// a new sha256 digest. It is order-sensitive: Combine(a, b) != Combine(b, a)
// in general.
func Combine(ids ...string) digest.Digest {
	return DigestBytes([]byte(strings.Join(ids, "|")))
}

// CanonicalJSON encodes value as the canonical JSON contract used for
// digest input: UTF-8, keys sorted lexicographically at every nesting
// level, no insignificant whitespace, and no escaping of non-ASCII
// characters. The accepted value space is nil, bool, int, int64, float64,
// string, []any, []string, map[string]any and map[string]string (which
// covers encoding/json's default unmarshal, or values assembled directly by
// callers); any other type, including the other numeric kinds, is an error.
//
// encoding/json's own Marshal sorts map[string]interface{} keys already,
// but it also HTML-escapes '<', '>' and '&' and backslash-u-escapes
// non-ASCII runes by default; neither behavior is acceptable for a digest
// contract that must be stable and portable, so the encoding is written
// directly rather than layered on top of json.Marshal's escaping options.
func CanonicalJSON(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encodeCanonicalString(buf, v)
	case int:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	case float64:
		encodeCanonicalFloat(buf, v)
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return encodeCanonical(buf, items)
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return encodeCanonical(buf, m)
	default:
		return fmt.Errorf("hash: canonical_json: unsupported value type %T", value)
	}
	return nil
}

// encodeCanonicalString writes s as a JSON string literal, passing UTF-8
// bytes through unescaped except for the characters JSON requires to be
// escaped (quote, backslash, and control characters).
func encodeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// encodeCanonicalFloat collapses integer-valued floats to their bare
// integer form (2.0 -> 2), unlike the reference implementation's
// json.dumps(2.0) -> "2.0". Parameter values that flow through this
// encoder are always re-read from the same encoding on this side, so the
// divergence is internally consistent; it does mean digests computed here
// are not byte-for-byte comparable to ones from a front end that preserves
// the float/int distinction.
func encodeCanonicalFloat(buf *bytes.Buffer, f float64) {
	if f == float64(int64(f)) {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}
