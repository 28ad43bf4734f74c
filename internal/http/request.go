package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wastelog/internal/core"
)

const (
	maxFormBytes = 4 << 10
	// multipart framing on top of the largest accepted certificate
	maxUploadBytes = core.MaxAttachmentSize + 1<<20

	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 2 * time.Minute
)

var errMissingField = errors.New("missing field")

// formValue reads a single field from a JSON object body or from a form.
func formValue(w http.ResponseWriter, r *http.Request, name string) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFormBytes))
		if err != nil {
			return "", fmt.Errorf("%w: read body: %v", core.ErrValidation, err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return "", fmt.Errorf("%w: malformed JSON body", core.ErrValidation)
		}
		raw, ok := fields[name]
		if !ok {
			return "", fmt.Errorf("%w: %w %q", core.ErrValidation, errMissingField, name)
		}
		return jsonScalar(raw), nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		return "", fmt.Errorf("%w: malformed form body", core.ErrValidation)
	}
	if _, ok := r.Form[name]; !ok {
		return "", fmt.Errorf("%w: %w %q", core.ErrValidation, errMissingField, name)
	}
	return sanitizeInput(r.Form.Get(name)), nil
}

// jsonScalar renders a JSON number or string as plain text.
func jsonScalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return sanitizeInput(s)
	}
	return string(bytes.TrimSpace(raw))
}

// parseMonthIndex accepts a 0-based month index.
func parseMonthIndex(s string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: month %q is not a number", core.ErrValidation, s)
	}
	if err := core.ValidateMonth(i); err != nil {
		return 0, err
	}
	return i, nil
}

// readAttachment reads the multipart "file" field. Bodies beyond the upload
// cap are reported as oversized certificates.
func readAttachment(w http.ResponseWriter, r *http.Request) (core.Attachment, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(core.MaxAttachmentSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return core.Attachment{}, core.ErrFileTooLarge
		}
		return core.Attachment{}, fmt.Errorf("%w: expected multipart form with a file field", core.ErrValidation)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		return core.Attachment{}, core.ErrNoFile
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, core.MaxAttachmentSize+1))
	if err != nil {
		return core.Attachment{}, fmt.Errorf("read uploaded file: %w", err)
	}
	size := header.Size
	if int64(len(data)) > size {
		size = int64(len(data))
	}
	return core.Attachment{Name: sanitizeInput(header.Filename), Size: size, Data: data}, nil
}

// waitTimeout reads ?timeout= as a Go duration, capped at maxWaitTimeout.
func waitTimeout(r *http.Request) (time.Duration, error) {
	v := strings.TrimSpace(r.URL.Query().Get("timeout"))
	if v == "" {
		return defaultWaitTimeout, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: invalid timeout %q", core.ErrValidation, v)
	}
	return min(d, maxWaitTimeout), nil
}

// sanitizeInput trims and drops control characters other than tab and newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
