// Package classify inspects file and clipboard content for sensitive data
// families and produces a classification verdict.
package classify

import (
	"bytes"
	"io"
	"os"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/errors"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

// DefaultMaxFileSize caps how much of a file the classifier will read.
const DefaultMaxFileSize = 10 << 20 // 10 MiB

// Classifier matches text against the sensitive-data pattern families.
type Classifier struct {
	sets        []*PatternSet
	maxFileSize int64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMaxFileSize overrides the file read cap.
func WithMaxFileSize(n int64) Option {
	return func(c *Classifier) { c.maxFileSize = n }
}

// WithPatternSets replaces the default pattern families.
func WithPatternSets(sets []*PatternSet) Option {
	return func(c *Classifier) { c.sets = sets }
}

// New creates a Classifier with the default pattern families.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		sets:        AllPatternSets,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClassifyText matches text against every family and aggregates the result.
// Payment card candidates are Luhn checked before counting as matches.
func (c *Classifier) ClassifyText(text string) models.Classification {
	result := models.Classification{Severity: models.SeverityLow}
	for _, ps := range c.sets {
		n := ps.CountMatches(text)
		if ps.Name == CardPatterns.Name && n > 0 {
			n = countLuhnValid(text, ps)
		}
		if n == 0 {
			continue
		}
		result.Sensitive = true
		result.Families = append(result.Families, ps.Name)
		result.MatchCount += n
		result.Severity = result.Severity.Max(models.Severity(ps.Severity))
	}
	if !result.Sensitive {
		return models.Classification{Sensitive: false}
	}
	return result
}

// ClassifyFile reads a file (up to the size cap) and classifies its content.
// Binary files classify as not sensitive.
func (c *Classifier) ClassifyFile(path string) (models.Classification, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Classification{}, errors.ErrContentUnavailable
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.Classification{}, errors.ErrContentUnavailable
	}
	if info.Size() > c.maxFileSize {
		return models.Classification{}, errors.ErrFileTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(f, c.maxFileSize))
	if err != nil {
		return models.Classification{}, errors.ErrContentUnavailable
	}
	if looksBinary(data) {
		return models.Classification{Sensitive: false}, nil
	}
	return c.ClassifyText(string(data)), nil
}

// countLuhnValid re-counts card matches keeping only Luhn-valid numbers.
func countLuhnValid(text string, ps *PatternSet) int {
	n := 0
	for _, p := range ps.Patterns {
		for _, m := range p.FindAllString(text, -1) {
			if luhnValid(m) {
				n++
			}
		}
	}
	return n
}

// luhnValid runs the Luhn checksum over the digits of s.
func luhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// looksBinary reports whether data contains NUL bytes in its first 8 KiB.
func looksBinary(data []byte) bool {
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	return bytes.IndexByte(probe, 0) >= 0
}
