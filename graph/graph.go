package graph

import (
	"bytes"

	"github.com/olvrng/ujson"
	"github.com/pkg/errors"
	"github.com/tidwall/sjson"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// QueryError is returned by Run when query validation is on and the query does not parse.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return "graph: invalid query: " + e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func validateQuery(query string) error {
	if _, err := parser.ParseQuery(&ast.Source{Name: "query", Input: query}); err != nil {
		return &QueryError{Err: err}
	}
	return nil
}

// requestBody encodes {"query": ..., "variables": ...}, leaving variables out when nil.
func requestBody(query string, variables map[string]interface{}) ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "query", query)
	if err != nil {
		return nil, errors.Wrap(err, "graph: cannot encode query")
	}
	if variables == nil {
		return body, nil
	}
	body, err = sjson.SetBytes(body, "variables", variables)
	return body, errors.Wrap(err, "graph: cannot encode variables")
}

var (
	nullString = []byte(`"null"`)
	jsonNull   = []byte("null")
)

// ReplaceNullString rewrites every "null" string value in input to a JSON null and
// compacts the document.
func ReplaceNullString(input []byte) ([]byte, error) {
	return rewriteValues(input, func(value []byte) []byte {
		if bytes.Equal(value, nullString) {
			return jsonNull
		}
		return value
	})
}

// rewriteValues walks input and re-emits it compacted, passing every scalar and
// opening/closing bracket through rewrite. Keys are copied as they are.
func rewriteValues(input []byte, rewrite func(value []byte) []byte) ([]byte, error) {
	out := make([]byte, 0, len(input))
	err := ujson.Walk(input, func(_ int, key, value []byte) bool {
		if n := len(out); n > 0 && ujson.ShouldAddComma(value, out[n-1]) {
			out = append(out, ',')
		}
		if len(key) > 0 {
			out = append(append(out, key...), ':')
		}
		out = append(out, rewrite(value)...)
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "graph: malformed JSON")
	}
	return out, nil
}
