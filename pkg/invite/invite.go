// Package invite reads and builds invitation links of the form
// https://host/path?session=ABC123 and renders them as QR codes.
package invite

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	// SessionParameter is the query parameter naming the invited session.
	SessionParameter = "session"

	DefaultQRCodeSize = 256
	MinQRCodeSize     = 64
	MaxQRCodeSize     = 1024
)

// ErrQRCodeSize is returned for sizes outside MinQRCodeSize..MaxQRCodeSize.
var ErrQRCodeSize = fmt.Errorf("qr code size must be between %d and %d", MinQRCodeSize, MaxQRCodeSize)

// ValidQRCodeSize reports whether size is an acceptable edge length.
func ValidQRCodeSize(size int) bool {
	return size >= MinQRCodeSize && size <= MaxQRCodeSize
}

// Link is a parsed navigation URL.
type Link struct {
	url    *url.URL
	values url.Values
}

// Parse parses a navigation URL. An empty string yields a link without
// parameters.
func Parse(rawURL string) (*Link, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse link: %v", err)
	}
	return &Link{url: u, values: u.Query()}, nil
}

// GetParameter returns the first value of the named query parameter.
// Blank values count as absent.
func (l *Link) GetParameter(name string) (string, bool) {
	value := strings.TrimSpace(l.values.Get(name))
	if value == "" {
		return "", false
	}
	return value, true
}

// SessionID returns the invited session, if any.
func (l *Link) SessionID() (string, bool) {
	return l.GetParameter(SessionParameter)
}

func (l *Link) String() string {
	return l.url.String()
}

// Build returns baseURL with the session parameter set to sessionID. Other
// query parameters of baseURL are kept.
func Build(baseURL, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base url: %v", err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("base url must be absolute: %s", baseURL)
	}
	q := u.Query()
	q.Set(SessionParameter, sessionID)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// QRCode renders link as a size x size PNG. A zero size means
// DefaultQRCodeSize.
func QRCode(link string, size int) ([]byte, error) {
	if size == 0 {
		size = DefaultQRCodeSize
	}
	if !ValidQRCodeSize(size) {
		return nil, fmt.Errorf("%w: got %d", ErrQRCodeSize, size)
	}
	png, err := qrcode.Encode(link, qrcode.High, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %v", err)
	}
	return png, nil
}

// QRCodeDataURL renders link as a PNG data URL suitable for an image source.
func QRCodeDataURL(link string, size int) (string, error) {
	png, err := QRCode(link, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
