// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jeranaias/slicebook/internal/backend"
)

// Defaults applied when neither params nor config supply a value.
const (
	DefaultBaseURL          = "https://api.openai.com/v1"
	DefaultEndpoint         = "/chat/completions"
	DefaultModel            = "gpt-4o-mini"
	DefaultMaxTokens        = 1024
	DefaultTemperature      = 0.7
	DefaultTopP             = 1.0
	DefaultFrequencyPenalty = 0.0
	DefaultPresencePenalty  = 0.0
)

// Config and Params keys understood by the engine.
const (
	KeyAPIKey           = "api_key"
	KeyBaseURL          = "base_url"
	KeyEndpoint         = "endpoint"
	KeyOrganization     = "organization"
	KeyModel            = "model"
	KeyMaxTokens        = "max_tokens"
	KeyTemperature      = "temperature"
	KeyTopP             = "top_p"
	KeyFrequencyPenalty = "frequency_penalty"
	KeyPresencePenalty  = "presence_penalty"
	KeyStop             = "stop"
	KeyUser             = "user"
	KeyLogitBias        = "logit_bias"
	KeyStream           = "stream"
)

// requestSpec is everything the transport needs for one request.
type requestSpec struct {
	url          string
	apiKey       string
	organization string
	stream       bool
	model        string
	body         []byte
}

// buildRequest resolves settings and encodes the request body. Any unusable
// setting is a *backend.ConfigurationError.
func buildRequest(r backend.Resolved, messages []backend.Message) (*requestSpec, error) {
	lookup := func(key string) (string, bool) {
		v, ok := r.Lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	apiKey, ok := lookup(KeyAPIKey)
	if !ok {
		return nil, &backend.ConfigurationError{Key: KeyAPIKey, Message: "API key not configured"}
	}

	base := DefaultBaseURL
	if v, ok := lookup(KeyBaseURL); ok {
		base = v
	}
	endpoint := DefaultEndpoint
	if v, ok := lookup(KeyEndpoint); ok {
		endpoint = v
	}
	target := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(endpoint, "/")
	if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &backend.ConfigurationError{Key: KeyBaseURL, Message: fmt.Sprintf("invalid URL %q", target), Err: err}
	}

	req := ChatRequest{
		Model:            DefaultModel,
		Messages:         messages,
		MaxTokens:        DefaultMaxTokens,
		Temperature:      DefaultTemperature,
		TopP:             DefaultTopP,
		FrequencyPenalty: DefaultFrequencyPenalty,
		PresencePenalty:  DefaultPresencePenalty,
		Stream:           true,
	}
	if req.Messages == nil {
		req.Messages = []backend.Message{}
	}
	if v, ok := lookup(KeyModel); ok {
		req.Model = v
	}

	if v, ok := lookup(KeyMaxTokens); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, &backend.ConfigurationError{Key: KeyMaxTokens, Message: fmt.Sprintf("invalid integer %q", v), Err: err}
		}
		req.MaxTokens = n
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{KeyTemperature, &req.Temperature},
		{KeyTopP, &req.TopP},
		{KeyFrequencyPenalty, &req.FrequencyPenalty},
		{KeyPresencePenalty, &req.PresencePenalty},
	}
	for _, f := range floats {
		v, ok := lookup(f.key)
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &backend.ConfigurationError{Key: f.key, Message: fmt.Sprintf("invalid number %q", v), Err: err}
		}
		*f.dst = n
	}

	if v, ok := lookup(KeyStream); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &backend.ConfigurationError{Key: KeyStream, Message: fmt.Sprintf("invalid boolean %q", v), Err: err}
		}
		req.Stream = b
	}
	if v, ok := lookup(KeyStop); ok {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				req.Stop = append(req.Stop, s)
			}
		}
	}
	if v, ok := lookup(KeyUser); ok {
		req.User = v
	}
	if v, ok := lookup(KeyLogitBias); ok {
		if err := json.Unmarshal([]byte(v), &req.LogitBias); err != nil {
			return nil, &backend.ConfigurationError{Key: KeyLogitBias, Message: "must be a JSON object of numbers", Err: err}
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	org, _ := lookup(KeyOrganization)
	return &requestSpec{
		url:          target,
		apiKey:       apiKey,
		organization: org,
		stream:       req.Stream,
		model:        req.Model,
		body:         body,
	}, nil
}
