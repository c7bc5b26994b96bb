package cms

import (
	"io"

	"github.com/klauspost/pgzip"
)

// newGzipReader decodes gzip-encoded response bodies. The transport's
// transparent decompression is disabled because Accept-Encoding is set
// explicitly on every request.
func newGzipReader(r io.Reader) (io.ReadCloser, error) {
	return pgzip.NewReader(r)
}
