package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinYear = 1900
	MaxYear = 2100

	MinScore = 1
	MaxScore = 10

	MaxTitleLength   = 200
	MaxGenreLength   = 50
	MaxCommentLength = 500

	DefaultGenre = "Unknown"

	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// NormalizeMovie validates in and returns it with defaults applied:
// the title is trimmed and the genre title-cased.
func NormalizeMovie(in MovieInput) (MovieInput, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleLength {
		return MovieInput{}, NewError(ErrValidation, "movie", "title")
	}
	if in.Year < MinYear || in.Year > MaxYear {
		return MovieInput{}, NewError(ErrValidation, "movie", "year")
	}

	genre := strings.TrimSpace(in.Genre)
	if genre == "" {
		genre = DefaultGenre
	}
	if utf8.RuneCountInString(genre) > MaxGenreLength {
		return MovieInput{}, NewError(ErrValidation, "movie", "genre")
	}

	return MovieInput{Title: title, Year: in.Year, Genre: TitleCase(genre)}, nil
}

// NormalizeRating validates in and returns it with the comment trimmed.
func NormalizeRating(in RatingInput) (RatingInput, error) {
	if in.Score < MinScore || in.Score > MaxScore {
		return RatingInput{}, NewError(ErrValidation, "rating", "score")
	}
	comment := strings.TrimSpace(in.Comment)
	if utf8.RuneCountInString(comment) > MaxCommentLength {
		return RatingInput{}, NewError(ErrValidation, "rating", "comment")
	}
	return RatingInput{Score: in.Score, Comment: comment}, nil
}

// ValidatePage checks list pagination arguments.
func ValidatePage(skip, limit int) error {
	if skip < 0 {
		return NewError(ErrValidation, "page", "skip")
	}
	if limit < 1 || limit > MaxListLimit {
		return NewError(ErrValidation, "page", "limit")
	}
	return nil
}

// TitleKey returns the case-normalized form of a title used for
// uniqueness and ordering: lower-cased with whitespace runs collapsed.
func TitleKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// TitleCase upper-cases the first letter of every word and lower-cases the
// rest. Spaces and punctuation start a new word, so "sci-fi" becomes "Sci-Fi";
// digits and apostrophes do not ("80s", "Children's").
func TitleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	start := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			if start {
				r = unicode.ToUpper(r)
			} else {
				r = unicode.ToLower(r)
			}
			start = false
		case unicode.IsDigit(r):
			start = false
		case r == '\'' || r == '’':
		default:
			start = true
		}
		b.WriteRune(r)
	}
	return b.String()
}
