package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 100 * 1024

// paramAliases maps every accepted spelling of a request parameter to its
// canonical name. Gateway clients send an impressive variety.
var paramAliases = map[string]string{
	"token":         "token",
	"tokenaddress":  "token",
	"token_address": "token",
	"token address": "token",
	"mint":          "token",
	"address":       "address",
	"wallet":        "address",
	"walletaddress": "address",
	"direction":     "direction",
	"maxdepth":      "maxDepth",
	"max_depth":     "maxDepth",
	"max depth":     "maxDepth",
	"depth":         "maxDepth",
	"timerange":     "timeRange",
	"time_range":    "timeRange",
	"time range":    "timeRange",
	"limit":         "limit",
}

func canonicalParam(name string) (string, bool) {
	c, ok := paramAliases[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// requestParams collects parameters from the query string and, for JSON
// bodies, top-level string/number fields, normalizing names. Later sources
// never override earlier ones; the body wins over the query.
func requestParams(r *http.Request) (map[string]string, error) {
	params := make(map[string]string)

	if r.Body != nil && r.Method != http.MethodGet {
		var body map[string]any
		if err := decodeJSONBody(r, &body); err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
		}
		for name, value := range body {
			canonical, ok := canonicalParam(name)
			if !ok {
				continue
			}
			switch v := value.(type) {
			case string:
				params[canonical] = v
			case float64:
				params[canonical] = strings.TrimSuffix(fmt.Sprintf("%v", v), ".0")
			}
		}
	}

	for name, values := range r.URL.Query() {
		canonical, ok := canonicalParam(name)
		if !ok || len(values) == 0 {
			continue
		}
		if _, exists := params[canonical]; !exists {
			params[canonical] = values[0]
		}
	}

	return params, nil
}

// decodeJSONBody strictly decodes one JSON document from the request body.
// Trailing data, oversized bodies, and non-JSON content types are errors.
func decodeJSONBody(r *http.Request, out any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("content type %q is not JSON", ct)
	}

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("request body has trailing data")
	}
	return nil
}
