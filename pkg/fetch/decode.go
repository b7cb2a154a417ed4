package fetch

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/Sriram-PR/wwwsave/pkg/utils"
)

// acceptEncoding is sent on every request; decodeBody understands each of these.
const acceptEncoding = "gzip, deflate, br"

// decodeBody wraps resp.Body according to its Content-Encoding. Unknown encodings pass through unchanged.
func decodeBody(resp *http.Response) (io.Reader, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip body: %w", utils.ErrResponseBodyRead, err)
		}
		return zr, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw
		br := bufio.NewReader(resp.Body)
		head, err := br.Peek(2)
		if err == nil && isZlibHeader(head) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("%w: deflate body: %w", utils.ErrResponseBodyRead, err)
			}
			return zr, nil
		}
		return flate.NewReader(br), nil
	default:
		return resp.Body, nil
	}
}

// isZlibHeader checks the CMF/FLG pair of RFC 1950.
func isZlibHeader(b []byte) bool {
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}
