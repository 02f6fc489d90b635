package render

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultInkBaseURL is the public remote renderer.
	DefaultInkBaseURL = "https://mermaid.ink"
	// LiveEditorURL is the base of the interactive editor links.
	LiveEditorURL = "https://mermaid.live/edit#pako:"
	// MaxEncodedLength is the longest definition packed into a pako payload.
	MaxEncodedLength = 20000
)

// ErrNotEncodable is returned for definitions that are empty or too long
// to pack.
var ErrNotEncodable = errors.New("definition cannot be encoded")

type pakoState struct {
	Code    string          `json:"code"`
	Mermaid pakoEngineState `json:"mermaid"`
}

type pakoEngineState struct {
	Theme string `json:"theme"`
}

// EncodeState packs a definition as zlib-compressed, unpadded base64url
// JSON, the payload format shared by the remote renderer and the live
// editor.
func EncodeState(definition, theme string) (string, error) {
	code := strings.TrimSpace(definition)
	if code == "" || utf8.RuneCountInString(code) > MaxEncodedLength {
		return "", ErrNotEncodable
	}
	if theme == "" {
		theme = "default"
	}
	payload, err := json.Marshal(pakoState{Code: code, Mermaid: pakoEngineState{Theme: theme}})
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", fmt.Errorf("compressing state: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		return "", fmt.Errorf("compressing state: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compressing state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeState reverses EncodeState.
func DecodeState(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding state: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decompressing state: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("decompressing state: %w", err)
	}
	var st pakoState
	if err := json.Unmarshal(data, &st); err != nil {
		return "", fmt.Errorf("decoding state: %w", err)
	}
	return st.Code, nil
}

// InkURL returns the remote SVG URL for definition, or "" for an empty
// definition. Definitions that cannot be packed are sent escaped in the
// path instead.
func InkURL(base, definition string) string {
	code := strings.TrimSpace(definition)
	if code == "" {
		return ""
	}
	if base == "" {
		base = DefaultInkBaseURL
	}
	base = strings.TrimRight(base, "/")
	if enc, err := EncodeState(code, "default"); err == nil {
		return base + "/svg/pako:" + enc
	}
	return base + "/svg/" + url.PathEscape(code)
}

// LiveURL returns an editor link for definition, or "" when it cannot be
// encoded.
func LiveURL(definition string) string {
	enc, err := EncodeState(definition, "default")
	if err != nil {
		return ""
	}
	return LiveEditorURL + enc
}

// InkFallback fetches SVG from a mermaid.ink compatible service.
type InkFallback struct {
	BaseURL string
	Client  *http.Client
}

// NewInkFallback creates a fallback against base.
func NewInkFallback(base string) *InkFallback {
	if base == "" {
		base = DefaultInkBaseURL
	}
	return &InkFallback{BaseURL: base, Client: &http.Client{Timeout: 20 * time.Second}}
}

// Fetch retrieves the SVG for definition. Anything that is not an SVG
// document counts as failure.
func (f *InkFallback) Fetch(ctx context.Context, definition string) (string, error) {
	target := InkURL(f.BaseURL, definition)
	if target == "" {
		return "", ErrNotEncodable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("building remote render request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("remote render: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("reading remote render: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("remote render: status %d", resp.StatusCode)
	}
	svg := strings.TrimSpace(string(body))
	if !strings.HasPrefix(svg, "<svg") {
		return "", fmt.Errorf("remote render: %w", ErrEmptyArtifact)
	}
	return svg, nil
}
