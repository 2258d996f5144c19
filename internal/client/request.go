package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/hutaol/nethelper/internal/config"
)

// Request describes one call.
type Request struct {
	Method string
	URL    string
	// Params is nil, a map (possibly nested), url.Values, a struct, or a
	// pre-encoded query string.
	Params any
	// Header is added on top of the client's configured headers.
	Header http.Header
	// Cache enables the cache lookup and the write-back for this call.
	Cache bool
	// Discriminator is mixed into the cache key. Empty falls back to the
	// client's cache.additional setting.
	Discriminator string
}

// buildHTTPRequest encodes r with the configured request serializer.
// Methods without a body carry their parameters in the query string.
func (c *Client) buildHTTPRequest(ctx context.Context, r Request) (*http.Request, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", r.URL, err)
	}

	var body io.Reader
	contentType := ""

	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		query, err := encodeQuery(r.Params)
		if err != nil {
			return nil, fmt.Errorf("encoding query: %w", err)
		}
		if query != "" {
			if target.RawQuery != "" {
				target.RawQuery += "&" + query
			} else {
				target.RawQuery = query
			}
		}
	default:
		if r.Params != nil {
			switch c.requestSerializer {
			case config.SerializerJSON:
				data, err := json.Marshal(r.Params)
				if err != nil {
					return nil, fmt.Errorf("encoding json body: %w", err)
				}
				body = bytes.NewReader(data)
				contentType = "application/json"
			default:
				form, err := encodeQuery(r.Params)
				if err != nil {
					return nil, fmt.Errorf("encoding form body: %w", err)
				}
				body = strings.NewReader(form)
				contentType = "application/x-www-form-urlencoded"
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	c.applyHeaders(req, r.Header)
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.responseSerializer == config.SerializerJSON && req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	return req, nil
}

// applyHeaders sets the configured headers, then adds the per-call ones.
func (c *Client) applyHeaders(req *http.Request, extra http.Header) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, values := range extra {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
}

// encodeQuery flattens params into a query string. Nested maps become
// key[sub]=v and slices become key[]=v, keys sorted at every level.
func encodeQuery(params any) (string, error) {
	switch p := params.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	case url.Values:
		return p.Encode(), nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}

	m, ok := generic.(map[string]any)
	if !ok {
		return "", fmt.Errorf("parameters must be an object, got %T", params)
	}

	var pairs []string
	appendPairs(&pairs, "", m)
	return strings.Join(pairs, "&"), nil
}

func appendPairs(pairs *[]string, prefix string, value any) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			name := k
			if prefix != "" {
				name = prefix + "[" + k + "]"
			}
			appendPairs(pairs, name, v[k])
		}
	case []any:
		for _, item := range v {
			appendPairs(pairs, prefix+"[]", item)
		}
	default:
		*pairs = append(*pairs, url.QueryEscape(prefix)+"="+url.QueryEscape(scalarString(v)))
	}
}

func scalarString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}

// decodeBody shapes a response body with the configured response serializer.
// Live and cached bodies go through the same path.
func (c *Client) decodeBody(body []byte) (any, error) {
	if c.responseSerializer != config.SerializerJSON {
		return body, nil
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding json response: %w", err)
	}
	return payload, nil
}
