package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// convertPath is the HTML conversion route of a Gotenberg-compatible service.
const convertPath = "/forms/chromium/convert/html"

// maxPDFSize bounds the response body read into memory.
const maxPDFSize = 20 << 20

// ErrInvalidPDF is returned when the service answers with something that is not a PDF.
var ErrInvalidPDF = errors.New("renderer returned invalid PDF output")

// Config configures the HTTP renderer client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// PaperWidth and PaperHeight are in inches; zero keeps the service default.
	PaperWidth  float64
	PaperHeight float64
}

// Client converts HTML documents to PDF through a remote rendering service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        Config
}

// NewClient creates a renderer client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
	}
}

// RenderHTMLToPDF uploads html as index.html and returns the PDF bytes.
func (c *Client) RenderHTMLToPDF(ctx context.Context, html string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.WriteString(fw, html); err != nil {
		return nil, fmt.Errorf("failed to write html: %w", err)
	}
	if c.cfg.PaperWidth > 0 && c.cfg.PaperHeight > 0 {
		_ = mw.WriteField("paperWidth", fmt.Sprintf("%.2f", c.cfg.PaperWidth))
		_ = mw.WriteField("paperHeight", fmt.Sprintf("%.2f", c.cfg.PaperHeight))
	}
	_ = mw.WriteField("printBackground", "true")
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+convertPath, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("renderer responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	pdf, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read render response: %w", err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		return nil, fmt.Errorf("%w (len=%d)", ErrInvalidPDF, len(pdf))
	}

	return pdf, nil
}
