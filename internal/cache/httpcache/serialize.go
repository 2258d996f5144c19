package httpcache

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"
)

const PREFIX = "---NETHELPER-CACHE-ENTRY---\n"

const (
	keyField      = "Key"
	storedAtField = "Stored-At"
)

// ErrCorrupt is returned for records that cannot be decoded.
var ErrCorrupt = errors.New("httpcache: corrupt entry")

// Entry is one decoded cache record.
type Entry struct {
	Key        string
	StoredAt   time.Time
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Serialize encodes the record header followed by the HTTP/1.1 dump of resp.
// The response body is consumed.
func Serialize(key string, storedAt time.Time, resp *http.Response) ([]byte, error) {
	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	normalized := &http.Response{
		Status:        resp.Status,
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	if normalized.Status == "" {
		normalized.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	header.Del("Transfer-Encoding")

	dump, err := httputil.DumpResponse(normalized, true)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(PREFIX)
	fmt.Fprintf(&buf, "%s: %s\n", keyField, key)
	fmt.Fprintf(&buf, "%s: %s\n", storedAtField, storedAt.UTC().Format(time.RFC3339Nano))
	buf.WriteString("\n")
	buf.Write(dump)
	return buf.Bytes(), nil
}

// Deserialize decodes a record written by Serialize.
// Any structural problem is reported as ErrCorrupt.
func Deserialize(b []byte) (*Entry, error) {
	if len(b) < len(PREFIX) || string(b[:len(PREFIX)]) != PREFIX {
		return nil, fmt.Errorf("%w: invalid prefix", ErrCorrupt)
	}

	reader := bufio.NewReader(bytes.NewReader(b[len(PREFIX):]))
	entry := &Entry{}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("%w: truncated record header", ErrCorrupt)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("%w: malformed record header %q", ErrCorrupt, line)
		}
		switch name {
		case keyField:
			entry.Key = value
		case storedAtField:
			storedAt, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad stored-at: %v", ErrCorrupt, err)
			}
			entry.StoredAt = storedAt
		}
	}

	if entry.Key == "" {
		return nil, fmt.Errorf("%w: missing key", ErrCorrupt)
	}

	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to deserialize response: %v", ErrCorrupt, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", ErrCorrupt, err)
	}

	entry.StatusCode = resp.StatusCode
	entry.Header = resp.Header
	entry.Body = body
	return entry, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}
