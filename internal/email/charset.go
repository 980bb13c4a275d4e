package email

import (
	"encoding/base64"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// decodeBase64URL decodes provider body data, which is base64url and may or
// may not carry padding.
func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

// charsetOf returns the charset parameter of a part's Content-Type header.
func charsetOf(part *MessagePart) string {
	for _, h := range part.Headers {
		if !strings.EqualFold(h.Name, "Content-Type") {
			continue
		}
		_, params, err := mime.ParseMediaType(h.Value)
		if err != nil {
			return ""
		}
		return params["charset"]
	}
	return ""
}

// toUTF8 converts body bytes to a UTF-8 string. The declared charset wins
// when it is known; otherwise the charset is detected. Bytes that still do
// not form valid UTF-8 are dropped.
func toUTF8(data []byte, declared string) string {
	if declared != "" && !isUTF8Name(declared) {
		if s, ok := decodeWith(data, declared); ok {
			return s
		}
	}

	if utf8.Valid(data) {
		return string(data)
	}

	result, err := chardet.NewTextDetector().DetectBest(data)
	if err == nil && result.Confidence >= minDetectConfidence(len(data)) {
		if s, ok := decodeWith(data, result.Charset); ok {
			return s
		}
	}

	return strings.ToValidUTF8(string(data), "")
}

func decodeWith(data []byte, name string) (string, bool) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", false
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

func isUTF8Name(name string) bool {
	switch strings.ToLower(name) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return true
	}
	return false
}

// Detection is unreliable on short samples, so accept a lower confidence there.
func minDetectConfidence(n int) int {
	if n > 50 {
		return 50
	}
	return 30
}

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
