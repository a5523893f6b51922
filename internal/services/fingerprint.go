package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"
)

type fingerprintInput struct {
	Method string              `json:"method"`
	Path   string              `json:"path"`
	Body   interface{}         `json:"body"`
	Query  map[string][]string `json:"query"`
}

// Fingerprint hashes the parts of a request that make it "the same request":
// method, path, body and query. JSON bodies are normalized so key order and
// whitespace do not matter; other bodies are hashed as raw text.
func Fingerprint(method, path string, body []byte, query url.Values) string {
	input := fingerprintInput{
		Method: strings.ToUpper(method),
		Path:   path,
		Body:   normalizeBody(body),
		Query:  map[string][]string(query),
	}
	if input.Query == nil {
		input.Query = map[string][]string{}
	}

	// encoding/json writes map keys in sorted order, so this is canonical
	canonical, err := json.Marshal(input)
	if err != nil {
		canonical = []byte(input.Method + " " + input.Path + " " + string(body) + " " + query.Encode())
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func normalizeBody(body []byte) interface{} {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil || dec.More() {
		return string(body)
	}
	return v
}
