// Package dedup fingerprints incoming files and detects near-duplicates
// against the fingerprint indexes in the KV store.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"os"
	"strings"

	"github.com/corona10/goimagehash"
)

const shingleSize = 4

// SHA256File streams the file through SHA-256 in 1 MiB reads and returns
// the lowercase hex digest.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Simhash computes a 64-bit shingle fingerprint of text. Whitespace is
// collapsed and the text lowercased so formatting changes do not move
// the fingerprint.
func Simhash(text string) uint64 {
	norm := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if len(norm) < shingleSize {
		if norm == "" {
			return 0
		}
		return fnvHash(norm)
	}

	var votes [64]int
	for i := 0; i+shingleSize <= len(norm); i++ {
		h := fnvHash(norm[i : i+shingleSize])
		for b := 0; b < 64; b++ {
			if h&(1<<uint(b)) != 0 {
				votes[b]++
			} else {
				votes[b]--
			}
		}
	}

	var fp uint64
	for b := 0; b < 64; b++ {
		if votes[b] > 0 {
			fp |= 1 << uint(b)
		}
	}
	return fp
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Hamming returns the number of differing bits between two fingerprints.
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// PhashFile computes the 64-bit perceptual hash of the image at path.
func PhashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("phash open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("phash decode %s: %w", path, err)
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("phash %s: %w", path, err)
	}
	return h.GetHash(), nil
}
