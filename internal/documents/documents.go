// Package documents turns uploaded files into the plain text the pipeline reads.
package documents

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"strings"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

// ErrUnsupportedType is returned for formats without a text provider
var ErrUnsupportedType = errors.New("unsupported document type")

// Document types
const (
	TypeText  = "text"
	TypeEmail = "email"
)

// MaxDocumentBytes bounds one upload
const MaxDocumentBytes = 10 << 20

var extensionTypes = map[string]string{
	".txt":  "text/plain",
	".text": "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".log":  "text/plain",
	".eml":  "message/rfc822",
}

// DetectContentType resolves a media type from the declared header, falling
// back to the file extension when the header is missing or generic.
func DetectContentType(filename, declared string) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if mt, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// FromUpload reads a text or RFC 822 email upload
func FromUpload(filename, contentType string, r io.Reader) (models.Document, error) {
	mediaType := DetectContentType(filename, contentType)

	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentBytes+1))
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > MaxDocumentBytes {
		return models.Document{}, fmt.Errorf("document exceeds %d bytes", MaxDocumentBytes)
	}

	switch {
	case mediaType == "message/rfc822":
		text, err := emailText(string(data))
		if err != nil {
			return models.Document{}, err
		}
		return models.Document{Type: TypeEmail, Filename: filename, Text: text}, nil
	case strings.HasPrefix(mediaType, "text/"):
		return models.Document{Type: TypeText, Filename: filename, Text: clean(string(data))}, nil
	default:
		return models.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}
}

// emailText renders the useful headers followed by the plain-text body
func emailText(raw string) (string, error) {
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse email: %w", err)
	}

	var b strings.Builder
	dec := new(mime.WordDecoder)
	for _, h := range []string{"From", "To", "Cc", "Reply-To", "Subject", "Date"} {
		v := msg.Header.Get(h)
		if v == "" {
			continue
		}
		if decoded, err := dec.DecodeHeader(v); err == nil {
			v = decoded
		}
		fmt.Fprintf(&b, "%s: %s\n", h, v)
	}
	b.WriteString("\n")

	body, err := bodyText(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return "", err
	}
	b.WriteString(body)
	return clean(b.String()), nil
}

// bodyText returns the text/plain content of a body, walking multipart trees
func bodyText(contentType, encoding string, body io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || contentType == "" {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		var parts []string
		var fallback string
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("failed to read email part: %w", err)
			}
			text, err := bodyText(part.Header.Get("Content-Type"), part.Header.Get("Content-Transfer-Encoding"), part)
			if err != nil {
				return "", err
			}
			pt, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
			switch {
			case pt == "" || pt == "text/plain" || strings.HasPrefix(pt, "multipart/"):
				if text != "" {
					parts = append(parts, text)
				}
			case fallback == "" && strings.HasPrefix(pt, "text/"):
				fallback = text
			}
		}
		if len(parts) == 0 && fallback != "" {
			return fallback, nil
		}
		return strings.Join(parts, "\n"), nil
	}

	if !strings.HasPrefix(mediaType, "text/") {
		return "", nil
	}

	var r io.Reader = body
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(body)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: body})
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to decode email body: %w", err)
	}
	return string(data), nil
}

// newlineStripper drops CR and LF so wrapped base64 decodes
type newlineStripper struct {
	r io.Reader
}

func (s *newlineStripper) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	out := 0
	for _, c := range p[:n] {
		if c != '\r' && c != '\n' {
			p[out] = c
			out++
		}
	}
	return out, err
}

func clean(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}
