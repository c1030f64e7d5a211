package jobs

import (
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint identifies a book chapter when the caller supplies none: the
// first 16 hex characters of BLAKE2b-256 over the identifying fields.
func Fingerprint(sourceRef, subjectID, classLevel, chapterTitle string) string {
	sum := blake2b.Sum256([]byte(strings.Join([]string{sourceRef, subjectID, classLevel, chapterTitle}, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// outputFilename names the CSV artifact for a payload.
func outputFilename(p Payload) string {
	parts := []string{"mcqs"}
	for _, s := range []string{p.Subject.Name, p.ClassLevel} {
		if s := slug(s); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, "ch"+strconv.Itoa(p.ChapterNumber))
	if fp := slug(p.BookFingerprint); fp != "" {
		parts = append(parts, fp)
	}
	return strings.Join(parts, "_") + ".csv"
}
