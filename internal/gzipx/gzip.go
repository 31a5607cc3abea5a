// Package gzipx inflates RFC 1952 gzip members, the compression format EU
// Digital Green Certificate payloads are packed with before Base45 encoding.
package gzipx

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// maxInflatedSize bounds decompression output to guard against a
// maliciously crafted member claiming an enormous ISIZE; health
// certificates are at most a few kilobytes inflated.
const maxInflatedSize = 1 << 20 // 1 MiB

// Inflate decompresses a single RFC 1952 gzip member. It fails on header
// mismatch, bad CRC32, or bad ISIZE — the checks compress/gzip performs
// against the trailer when the member is read through to EOF, which this
// wraps.
func Inflate(compressed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("gzipx: bad header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, zr, maxInflatedSize+1); err != nil && err != io.EOF {
		zr.Close()
		return nil, fmt.Errorf("gzipx: inflate: %w", err)
	}
	if buf.Len() > maxInflatedSize {
		zr.Close()
		return nil, fmt.Errorf("gzipx: inflated payload exceeds %d bytes", maxInflatedSize)
	}

	// CRC32 and ISIZE were already validated by the read reaching EOF above;
	// Close only releases the decompressor.
	if err := zr.Close(); err != nil {
		return nil, fmt.Errorf("gzipx: trailer check failed: %w", err)
	}

	return buf.Bytes(), nil
}

// Deflate compresses data into a single RFC 1952 gzip member, used only to
// build test fixtures.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
