package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// defaultFileNameLayout names files sent without an explicit name.
const defaultFileNameLayout = "20060102150405"

// UploadFile posts filePath as the multipart field name, together with params
// as plain form fields. The body is streamed, never buffered whole. progress
// counts file bytes against the file size. Uploads are never cached.
func (c *Client) UploadFile(ctx context.Context, rawURL string, params any, name, filePath, mimeType string, progress ProgressFunc) *Task {
	return c.upload(ctx, rawURL, params, name, []string{filePath}, []string{filepath.Base(filePath)}, mimeType, progress)
}

// UploadFiles posts every path as a part of the same multipart field name.
// fileNames[i] names paths[i]; a missing or empty entry becomes a timestamp
// plus the part index and the file's extension. progress counts the bytes of
// all files against their combined size.
func (c *Client) UploadFiles(ctx context.Context, rawURL string, params any, name string, paths, fileNames []string, mimeType string, progress ProgressFunc) *Task {
	names := make([]string, len(paths))
	stamp := time.Now().Format(defaultFileNameLayout)
	for i, p := range paths {
		if i < len(fileNames) && fileNames[i] != "" {
			names[i] = fileNames[i]
			continue
		}
		names[i] = stamp + strconv.Itoa(i) + filepath.Ext(p)
	}
	return c.upload(ctx, rawURL, params, name, paths, names, mimeType, progress)
}

// uploadPart is one open file of a multipart upload.
type uploadPart struct {
	file     *os.File
	filename string
	size     int64
}

func (c *Client) upload(ctx context.Context, rawURL string, params any, name string, paths, names []string, mimeType string, progress ProgressFunc) *Task {
	id := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{"request_id": id, "method": http.MethodPost, "url": rawURL, "files": len(paths)})

	return c.start(ctx, id, http.MethodPost, rawURL, log, "", func(ctx context.Context) (*liveResult, error) {
		if len(paths) == 0 {
			return nil, errors.New("no files to upload")
		}
		fields, err := formFields(params)
		if err != nil {
			return nil, fmt.Errorf("encoding form fields: %w", err)
		}

		parts, total, err := openParts(paths, names)
		if err != nil {
			return nil, err
		}

		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)

		// the writer goroutine owns the open files from here on
		go func() {
			defer closeParts(parts)
			pw.CloseWithError(writeMultipart(mw, fields, name, mimeType, parts, total, progress))
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, pr)
		if err != nil {
			_ = pr.CloseWithError(err)
			return nil, err
		}
		c.applyHeaders(req, nil)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		log.Debugf("Uploading %d bytes", total)
		res, err := c.execute(req)
		// unblock the writer if the transport stopped reading early
		_ = pr.CloseWithError(io.ErrClosedPipe)
		return res, err
	})
}

func openParts(paths, names []string) ([]uploadPart, int64, error) {
	parts := make([]uploadPart, 0, len(paths))
	var total int64
	for i, p := range paths {
		file, err := os.Open(p)
		if err != nil {
			closeParts(parts)
			return nil, 0, fmt.Errorf("opening upload file: %w", err)
		}
		info, err := file.Stat()
		if err != nil {
			_ = file.Close()
			closeParts(parts)
			return nil, 0, fmt.Errorf("stat upload file: %w", err)
		}
		parts = append(parts, uploadPart{file: file, filename: names[i], size: info.Size()})
		total += info.Size()
	}
	return parts, total, nil
}

func closeParts(parts []uploadPart) {
	for _, part := range parts {
		_ = part.file.Close()
	}
}

func writeMultipart(mw *multipart.Writer, fields url.Values, name, mimeType string, parts []uploadPart, total int64, progress ProgressFunc) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range fields[k] {
			if err := mw.WriteField(k, v); err != nil {
				return err
			}
		}
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var sent int64
	for _, part := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(name), escapeQuotes(part.filename)))
		h.Set("Content-Type", mimeType)

		w, err := mw.CreatePart(h)
		if err != nil {
			return err
		}

		var content io.Reader = part.file
		if progress != nil {
			offset := sent
			content = newProgressReader(part.file, total, func(completed, total int64) {
				progress(offset+completed, total)
			})
		}
		n, err := io.Copy(w, content)
		if err != nil {
			return err
		}
		sent += n
	}
	return mw.Close()
}

func formFields(params any) (url.Values, error) {
	if params == nil {
		return url.Values{}, nil
	}
	encoded, err := encodeQuery(params)
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(encoded)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
