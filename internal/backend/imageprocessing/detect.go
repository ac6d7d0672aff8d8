package imageprocessing

import (
	"bytes"
	"net/http"
	"strings"
)

const MimeSVG = "image/svg+xml"

// DetectMimeType sniffs the content type of encoded image bytes.
func DetectMimeType(data []byte) string {
	if isSVGData(data) {
		return MimeSVG
	}
	mimeType := http.DetectContentType(data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return mimeType
}

// isSVGData looks for an svg root element or namespace in the first 4KB.
func isSVGData(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	n := len(data)
	if n > 4096 {
		n = 4096
	}
	header := bytes.ToLower(bytes.TrimSpace(data[:n]))
	return bytes.Contains(header, []byte("<svg")) ||
		bytes.Contains(header, []byte("xmlns=\"http://www.w3.org/2000/svg\"")) ||
		bytes.Contains(header, []byte("xmlns='http://www.w3.org/2000/svg'"))
}
