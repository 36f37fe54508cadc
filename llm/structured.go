package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/BaSui01/graphflow/types"
)

// CompleteJSON asks p for a JSON object and decodes it into dest. The
// request is copied; its ResponseFormat is forced to json_object.
func CompleteJSON(ctx context.Context, p Provider, req *ChatRequest, dest any) (*ChatResponse, error) {
	r := *req
	r.ResponseFormat = JSONObjectFormat

	resp, err := p.Completion(ctx, &r)
	if err != nil {
		return nil, err
	}

	content := resp.Content()
	if content == "" {
		return resp, types.NewError(types.ErrEmptyResponse, "model returned no content").
			WithProvider(p.Name())
	}

	raw := ExtractJSON(content)
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return resp, types.NewError(types.ErrDecodeFailed, "model output is not the expected JSON").
			WithCause(err).WithProvider(p.Name())
	}
	return resp, nil
}

// ExtractJSON strips markdown code fences and any prose around the outermost
// JSON object or array in s.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}
