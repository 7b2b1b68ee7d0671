// internal/capture/compression.go
package capture

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is advertised when the caller did not choose an encoding.
// Setting it disables the transparent gzip handling of net/http, so every
// encoding is decoded here.
const acceptEncoding = "br, gzip, deflate"

var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
)

var emptyReader = strings.NewReader("")

func getGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

func putGzipReader(zr *gzip.Reader) {
	// Reset against an empty reader drops the reference to the old body; the
	// io.EOF it reports is expected.
	_ = zr.Reset(emptyReader)
	gzipReaderPool.Put(zr)
}

func getBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

func putBrotliReader(br *brotli.Reader) {
	_ = br.Reset(emptyReader)
	brotliReaderPool.Put(br)
}

// layer closes a decoding reader together with the body underneath it.
type layer struct {
	io.ReadCloser
	under   io.ReadCloser
	release func()
}

func (l *layer) Close() error {
	err := errors.Join(l.ReadCloser.Close(), l.under.Close())
	if l.release != nil {
		l.release()
		l.release = nil
	}
	return err
}

// decompress wraps resp.Body in decoders for every Content-Encoding layer,
// last applied first. On success the encoding headers are removed. On error
// the body may be partly consumed and must be discarded.
func decompress(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := contentEncodings(resp.Header)
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		var (
			reader  io.ReadCloser
			release func()
		)
		switch encodings[i] {
		case "gzip", "x-gzip":
			zr, err := getGzipReader(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip: %w", err)
			}
			reader, release = zr, func() { putGzipReader(zr) }
		case "deflate":
			fr, err := tryDeflate(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate: %w", err)
			}
			reader = fr
		case "br":
			br, err := getBrotliReader(resp.Body)
			if err != nil {
				return fmt.Errorf("brotli: %w", err)
			}
			reader, release = io.NopCloser(br), func() { putBrotliReader(br) }
		case "identity":
			continue
		default:
			return fmt.Errorf("unsupported Content-Encoding %q", encodings[i])
		}
		resp.Body = &layer{ReadCloser: reader, under: resp.Body, release: release}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// contentEncodings flattens both repeated headers and comma separated lists.
func contentEncodings(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Content-Encoding") {
		for _, part := range strings.Split(v, ",") {
			if enc := strings.ToLower(strings.TrimSpace(part)); enc != "" {
				out = append(out, enc)
			}
		}
	}
	return out
}

// rewindReader records what has been read so the stream can be replayed
// from the start once.
type rewindReader struct {
	r      io.Reader
	buf    *bytes.Buffer
	source io.Reader
}

func newRewindReader(r io.Reader) *rewindReader {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	return &rewindReader{r: io.TeeReader(r, buf), buf: buf, source: r}
}

func (rr *rewindReader) Read(p []byte) (int, error) { return rr.r.Read(p) }

func (rr *rewindReader) rewind() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}

// tryDeflate reads zlib wrapped deflate (RFC 1950) and falls back to raw
// deflate (RFC 1951), which some servers send instead.
func tryDeflate(r io.Reader) (io.ReadCloser, error) {
	rr := newRewindReader(r)
	if zr, err := zlib.NewReader(rr); err == nil {
		return zr, nil
	}
	rr.rewind()
	return flate.NewReader(rr), nil
}
