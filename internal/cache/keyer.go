package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Keyer derives cache keys from the identifying fields of a request.
//
// Same (url, params, extra) must produce the same key regardless of map
// iteration order. Implementations must be safe for concurrent use.
type Keyer interface {
	Key(rawURL string, params any, extra string) (string, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key implements Keyer using DeriveKey.
func (k *DefaultKeyer) Key(rawURL string, params any, extra string) (string, error) {
	return DeriveKey(rawURL, params, extra)
}

// DeriveKey returns the hex SHA-256 of the canonical form of
// [normalized url, canonical params, extra].
func DeriveKey(rawURL string, params any, extra string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", ErrEmptyURL
	}

	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	canonicalParams, err := CanonicalParams(params)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize parameters: %w", err)
	}

	// Each field is JSON-encoded so separator characters inside values cannot
	// make two different triples serialize identically.
	var buf bytes.Buffer
	buf.WriteByte('[')
	urlBytes, _ := json.Marshal(normalized)
	buf.Write(urlBytes)
	buf.WriteByte(',')
	buf.Write(canonicalParams)
	buf.WriteByte(',')
	extraBytes, _ := json.Marshal(extra)
	buf.Write(extraBytes)
	buf.WriteByte(']')

	hash := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(hash[:]), nil
}

// NormalizeURL lowercases scheme and host, drops default ports and the
// fragment, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch u.Scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// CanonicalParams produces a deterministic JSON representation of params.
// Maps are sorted by key at every depth; slice order is preserved.
func CanonicalParams(params any) ([]byte, error) {
	if params == nil {
		return []byte("null"), nil
	}
	// A pre-encoded query string keys the same as the url.Values it encodes.
	if query, ok := params.(string); ok {
		if query == "" {
			return []byte("null"), nil
		}
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, fmt.Errorf("parsing query string params: %w", err)
		}
		params = values
	}

	// Round-trip through JSON so typed maps, url.Values and structs all reduce
	// to map[string]any / []any / scalars.
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	return canonicalize(generic)
}

func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
