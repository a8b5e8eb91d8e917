package codec

import (
	"encoding/base64"
	"strings"

	"github.com/nulzo/prism-gateway/pkg/api"
)

type ImageData struct {
	MediaType string
	Data      string // Base64 encoded string
}

func IsDataURI(url string) bool {
	return strings.HasPrefix(url, "data:")
}

// ParseDataURI splits data:[<media type>][;base64],<data> and checks the
// payload really is base64. Remote URLs are never fetched here.
func ParseDataURI(field, uri string) (*ImageData, error) {
	if !IsDataURI(uri) {
		return nil, api.UnsupportedOperation("remote image url")
	}
	comma := strings.IndexByte(uri, ',')
	if comma == -1 {
		return nil, api.MalformedInput(field, "invalid data URI", nil)
	}

	meta := strings.Split(uri[len("data:"):comma], ";")
	data := uri[comma+1:]

	mediaType := meta[0]
	if mediaType == "" {
		mediaType = "text/plain"
	}
	isBase64 := false
	for _, p := range meta[1:] {
		if p == "base64" {
			isBase64 = true
		}
	}
	if !isBase64 {
		return nil, api.MalformedInput(field, "only base64 data URIs are supported for images", nil)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, api.MalformedInput(field, "data URI is not an image: "+mediaType, nil)
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return nil, api.MalformedInput(field, "invalid base64 image data", err)
	}
	return &ImageData{MediaType: mediaType, Data: data}, nil
}

// DataURI is the inverse of ParseDataURI.
func (d ImageData) DataURI() string {
	return "data:" + d.MediaType + ";base64," + d.Data
}
