package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/vaultlogic/pulse/pkg/schema"
)

// externalSendConfig posts selected variables as a JSON document to an
// external endpoint. Failures are reported like any other block failure and
// do not stop sibling blocks; the separate "required" flag (read by the
// runner) additionally flips the phase success flag.
type externalSendConfig struct {
	URL         string            `json:"url"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	PayloadVars []string          `json:"payloadVars,omitempty"`
}

type externalSendHandler struct {
	runner *Runner
}

func (h *externalSendHandler) Type() schema.BlockType { return schema.BlockTypeExternalSend }

func (h *externalSendHandler) Execute(ctx context.Context, rc *runContext, block *schema.Block) (*BlockOutput, error) {
	var cfg externalSendConfig
	if err := json.Unmarshal(block.Config, &cfg); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "malformed external_send config").WithCause(err)
	}

	payload := make(map[string]any)
	if len(cfg.PayloadVars) == 0 {
		payload = rc.vars.GetAll()
	} else {
		// Missing variables degrade to null rather than failing the send.
		for _, key := range cfg.PayloadVars {
			payload[key] = rc.vars.Get(key)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "marshal payload").WithCause(err)
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.runner.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnector,
			"external send to %s failed: %s", cfg.URL, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the response body is not part
	// of the variable space.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, schema.NewErrorf(schema.ErrCodeConnector,
			"external send to %s returned status %d", cfg.URL, resp.StatusCode)
	}

	return &BlockOutput{}, nil
}
