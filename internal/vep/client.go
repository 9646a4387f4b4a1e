package vep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/inodb/vepcache/internal/variant"
)

// DefaultEndpoint is the Ensembl VEP batch region endpoint.
const DefaultEndpoint = "https://rest.ensembl.org/vep/human/region"

// Client issues batch annotation requests against the VEP REST API.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a VEP client with a per-request timeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: zap.NewNop(),
	}
}

// SetLogger sets the logger for request diagnostics.
func (c *Client) SetLogger(l *zap.Logger) {
	c.logger = l
}

// batchRequest is the VEP POST body. The option flags request the scores and
// notations the parser and the pathogenicity model depend on.
type batchRequest struct {
	Variants     []string `json:"variants"`
	REVEL        bool     `json:"REVEL"`
	CADD         bool     `json:"CADD"`
	SpliceAI     bool     `json:"SpliceAI"`
	Protein      bool     `json:"protein"`
	GencodeBasic bool     `json:"gencode_basic"`
	LoF          bool     `json:"LoF"`
	Mane         bool     `json:"mane"`
	HGVS         bool     `json:"hgvs"`
	DBNSFP       string   `json:"dbNSFP"`
}

// Annotate submits one batch of variants and returns the per-variant result
// blocks. Connection failures, timeouts, and non-2xx statuses fail the whole
// batch; the caller decides retry semantics.
func (c *Client) Annotate(ctx context.Context, variants []variant.Variant) ([]Result, error) {
	regions := make([]string, len(variants))
	for i, v := range variants {
		regions[i] = v.Region()
	}

	payload := batchRequest{
		Variants:     regions,
		REVEL:        true,
		CADD:         true,
		SpliceAI:     true,
		Protein:      true,
		GencodeBasic: true,
		LoF:          true,
		Mane:         true,
		HGVS:         true,
		DBNSFP:       "clinvar_OMIM_id,GERP++_RS",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal VEP request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build VEP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("VEP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("VEP API error %d: %s", resp.StatusCode, string(snippet))
	}

	var results []Result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode VEP response: %w", err)
	}

	c.logger.Debug("VEP batch annotated",
		zap.Int("variants", len(variants)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(start)))

	return results, nil
}
