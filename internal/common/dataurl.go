package common

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// EncodeDataURL renders data as a base64 data URL
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL parses a data URL into its media type and payload. Both
// base64 and percent-encoded payloads are accepted.
func DecodeDataURL(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("data URL has no payload separator")
	}

	isBase64 := false
	mimeType := "text/plain"
	for i, part := range strings.Split(meta, ";") {
		switch {
		case i == 0 && part != "":
			mimeType = strings.ToLower(part)
		case part == "base64":
			isBase64 = true
		}
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", nil, fmt.Errorf("failed to decode base64 payload: %w", err)
		}
		return mimeType, data, nil
	}

	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return mimeType, []byte(unescaped), nil
}
