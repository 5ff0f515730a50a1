package atlas

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// compressFile Zstandard-compresses src to dst (dst is typically src+".zst")
// and leaves src untouched; the caller removes the plaintext once the
// compressed copy is confirmed written. Used only at finalize time: spec.md
// §4.5 keeps part files plaintext during the crawl and compresses in place
// once the dataset stream is done growing.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open part for compression: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create compressed part: %w", err)
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		out.Close()
		return fmt.Errorf("create zstd encoder: %w", err)
	}

	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return fmt.Errorf("compress part: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return fmt.Errorf("close zstd encoder: %w", err)
	}
	return out.Close()
}

// decompressFile reads a Zstandard-compressed file in full. Only used by
// tests; neither a normal crawl nor the resume path decompresses parts.
func decompressFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compressed file: %w", err)
	}
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	return io.ReadAll(dec)
}
