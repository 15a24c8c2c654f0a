package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxQuestionLength bounds user questions in runes.
const MaxQuestionLength = 2000

// ValidateQuestion trims a user question and checks it can be answered.
func ValidateQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", ErrEmptyQuestion
	}
	if utf8.RuneCountInString(q) > MaxQuestionLength {
		return "", ErrQuestionTooLong
	}
	return q, nil
}

// ValidateChunking checks the size/overlap pair used by the chunker.
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return NewConfigError("chunk.size", "must be positive")
	}
	if overlap < 0 {
		return NewConfigError("chunk.overlap", "must not be negative")
	}
	if overlap >= size {
		return NewConfigError("chunk.overlap", "must be smaller than chunk.size")
	}
	return nil
}
