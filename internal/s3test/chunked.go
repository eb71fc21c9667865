package s3test

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// isStreamingPayload reports whether the request body uses the AWS
// streaming (aws-chunked) encoding. Both the SigV4 signed form and the
// unsigned-payload-with-trailer form announce themselves through the
// X-Amz-Content-Sha256 header.
func isStreamingPayload(contentSHA string) bool {
	return strings.HasPrefix(strings.ToUpper(contentSHA), "STREAMING-")
}

// decodeStreamingPayload decodes an aws-chunked request body into w.
// Each chunk is framed as <size-hex>[;extensions]\r\n<data>\r\n, ending
// with a zero-length chunk followed by optional trailer lines. Chunk
// signatures and trailer checksums are accepted without verification.
func decodeStreamingPayload(w io.Writer, body io.Reader) (int64, error) {
	br := bufio.NewReader(body)

	var written int64
	buf := make([]byte, 32*1024)

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, errors.New("unexpected EOF while reading chunk header")
			}
			return 0, fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		// Strip chunk extensions such as ";chunk-signature=...".
		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil {
			return 0, fmt.Errorf("parse chunk size %q: %w", line, err)
		}

		if size == 0 {
			// Final chunk. Whatever follows is trailers plus the
			// terminating blank line; none of it is payload.
			_, _ = io.Copy(io.Discard, br)
			return written, nil
		}

		limited := &io.LimitedReader{R: br, N: size}
		n, err := io.CopyBuffer(w, limited, buf)
		if err != nil {
			return 0, fmt.Errorf("read chunk body: %w", err)
		}
		if n != size {
			return 0, fmt.Errorf("short chunk body: expected %d bytes, got %d", size, n)
		}
		written += n

		// Consume the CRLF after the chunk body.
		if b, err := br.ReadByte(); err != nil || b != '\r' {
			if err == nil {
				return 0, fmt.Errorf("expected CR after chunk, got %q", b)
			}
			return 0, fmt.Errorf("read CR after chunk: %w", err)
		}
		if b, err := br.ReadByte(); err != nil || b != '\n' {
			if err == nil {
				return 0, fmt.Errorf("expected LF after chunk, got %q", b)
			}
			return 0, fmt.Errorf("read LF after chunk: %w", err)
		}
	}
}

// readPayload reads a request body, transparently decoding the
// aws-chunked framing when contentSHA announces it.
func readPayload(body io.Reader, contentSHA string) ([]byte, error) {
	if !isStreamingPayload(contentSHA) {
		return io.ReadAll(body)
	}

	var buf bytes.Buffer
	if _, err := decodeStreamingPayload(&buf, body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
