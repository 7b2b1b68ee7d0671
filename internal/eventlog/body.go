package eventlog

import (
	"bytes"
	stdjson "encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
	jsoniter "github.com/json-iterator/go"
)

// formJSON renders decoded form fields, which have no order of their own.
var formJSON = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

const indent = "  "

// carriesBody reports whether the request body is captured for method.
func carriesBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func isJSONType(mt string) bool {
	return mt == "application/json" || strings.HasSuffix(mt, "+json") || mt == "text/json"
}

func isXMLType(mt string) bool {
	return mt == "application/xml" || mt == "text/xml" || strings.HasSuffix(mt, "+xml")
}

// DecodeRequestBody renders a request body for the log. Structured content
// types are decoded and re-serialized with indentation; anything else, and
// anything that fails to decode, is kept verbatim.
func DecodeRequestBody(method, contentType string, body []byte) *string {
	if len(body) == 0 || !carriesBody(method) {
		return nil
	}
	mt := mediaType(contentType)
	switch {
	case isJSONType(mt):
		if s, ok := prettyJSON(body); ok {
			return &s
		}
	case isXMLType(mt):
		if s, ok := prettyXML(body); ok {
			return &s
		}
	case mt == "application/x-www-form-urlencoded":
		if s, ok := prettyForm(body); ok {
			return &s
		}
	}
	s := string(body)
	return &s
}

// DecodeResponseBody renders a response body for the log: JSON first, then
// XML for xml content types, then plain text. Bodies that are not valid UTF-8
// text yield nil.
func DecodeResponseBody(contentType string, body []byte) *string {
	if s, ok := prettyJSON(body); ok {
		return &s
	}
	if isXMLType(mediaType(contentType)) {
		if s, ok := prettyXML(body); ok {
			return &s
		}
	}
	if !utf8.Valid(body) {
		return nil
	}
	s := string(body)
	return &s
}

// prettyJSON indents a JSON document as written: key order, number text and
// escapes are kept.
func prettyJSON(body []byte) (string, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || !jsoniter.Valid(body) {
		return "", false
	}
	var out bytes.Buffer
	if err := stdjson.Indent(&out, body, "", indent); err != nil {
		return "", false
	}
	return out.String(), true
}

func prettyXML(body []byte) (string, bool) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil || doc.Root() == nil {
		return "", false
	}
	doc.Indent(len(indent))
	out, err := doc.WriteToString()
	if err != nil {
		return "", false
	}
	return strings.TrimRight(out, "\n"), true
}

func prettyForm(body []byte) (string, bool) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", false
	}
	flat := make(map[string]string, len(values))
	for k, v := range values {
		flat[k] = v[len(v)-1]
	}
	out, err := formJSON.MarshalIndent(flat, "", indent)
	if err != nil {
		return "", false
	}
	return string(out), true
}
