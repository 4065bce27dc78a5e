package sync

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// HashFile computes the SHA-256 of a file on disk, used by export to skip
// files that already hold the right content
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashString computes the SHA-256 of content as HashFile would see it
func HashString(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// RevisionSHA1 computes the hex SHA-1 the wiki reports for revision content
func RevisionSHA1(content string) string {
	h := sha1.Sum([]byte(content))
	return hex.EncodeToString(h[:])
}
