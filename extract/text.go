package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// TextExtractor handles plain text formats. UTF-16 input is detected by
// BOM; anything that is not valid UTF-8 after that is decoded lossily.
type TextExtractor struct{}

func (e *TextExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := decodeText(data)
	if strings.TrimSpace(content) == "" {
		return &Result{}, nil
	}
	return &Result{
		Pages: []Page{{Index: 0, Text: content, Method: "native"}},
	}, nil
}

func decodeText(data []byte) string {
	if len(data) >= 2 {
		var dec *encoding.Decoder
		switch {
		case data[0] == 0xFF && data[1] == 0xFE:
			dec = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		case data[0] == 0xFE && data[1] == 0xFF:
			dec = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		}
		if dec != nil {
			if out, err := dec.Bytes(data); err == nil {
				return string(out)
			}
		}
	}

	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError))
}
