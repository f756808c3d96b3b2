package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msomdec/movie-catalogue/internal/domain"
)

func TestNormalizeMovie(t *testing.T) {
	got, err := domain.NormalizeMovie(domain.MovieInput{Title: "  Dune ", Year: 2021, Genre: "sci-fi"})
	require.NoError(t, err)
	assert.Equal(t, domain.MovieInput{Title: "Dune", Year: 2021, Genre: "Sci-Fi"}, got)
}

func TestNormalizeMovie_DefaultGenre(t *testing.T) {
	got, err := domain.NormalizeMovie(domain.MovieInput{Title: "Alien", Year: 1979})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultGenre, got.Genre)
}

func TestNormalizeMovie_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		in    domain.MovieInput
		field string
	}{
		{"empty title", domain.MovieInput{Title: "   ", Year: 2000}, "title"},
		{"long title", domain.MovieInput{Title: strings.Repeat("x", 201), Year: 2000}, "title"},
		{"year too small", domain.MovieInput{Title: "Old", Year: 1899}, "year"},
		{"year too large", domain.MovieInput{Title: "Future", Year: 2101}, "year"},
		{"long genre", domain.MovieInput{Title: "G", Year: 2000, Genre: strings.Repeat("g", 51)}, "genre"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := domain.NormalizeMovie(tc.in)
			require.ErrorIs(t, err, domain.ErrValidation)

			var de *domain.Error
			require.True(t, errors.As(err, &de))
			assert.Equal(t, "movie", de.Entity)
			assert.Equal(t, tc.field, de.Field)
		})
	}
}

func TestNormalizeMovie_YearBounds(t *testing.T) {
	for _, year := range []int{domain.MinYear, domain.MaxYear} {
		_, err := domain.NormalizeMovie(domain.MovieInput{Title: "Edge", Year: year})
		assert.NoError(t, err, "year %d", year)
	}
}

func TestNormalizeRating(t *testing.T) {
	got, err := domain.NormalizeRating(domain.RatingInput{Score: 5, Comment: " great "})
	require.NoError(t, err)
	assert.Equal(t, domain.RatingInput{Score: 5, Comment: "great"}, got)

	for _, score := range []int{0, 11, -3} {
		_, err := domain.NormalizeRating(domain.RatingInput{Score: score})
		assert.ErrorIs(t, err, domain.ErrValidation, "score %d", score)
	}

	_, err = domain.NormalizeRating(domain.RatingInput{Score: 3, Comment: strings.Repeat("c", 501)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestValidatePage(t *testing.T) {
	assert.NoError(t, domain.ValidatePage(0, 1))
	assert.NoError(t, domain.ValidatePage(10, domain.MaxListLimit))
	assert.ErrorIs(t, domain.ValidatePage(-1, 10), domain.ErrValidation)
	assert.ErrorIs(t, domain.ValidatePage(0, 0), domain.ErrValidation)
	assert.ErrorIs(t, domain.ValidatePage(0, domain.MaxListLimit+1), domain.ErrValidation)
}

func TestTitleCase(t *testing.T) {
	tests := map[string]string{
		"sci-fi":          "Sci-Fi",
		"SCIENCE FICTION": "Science Fiction",
		"film noir":       "Film Noir",
		"80s action":      "80s Action",
		"children's":      "Children's",
		"rom/com":         "Rom/Com",
	}
	for in, want := range tests {
		assert.Equal(t, want, domain.TitleCase(in), "input %q", in)
	}
}

func TestTitleKey(t *testing.T) {
	assert.Equal(t, "the matrix", domain.TitleKey("The   Matrix"))
	assert.Equal(t, domain.TitleKey("DUNE"), domain.TitleKey("dune"))
}

func TestErrorMessage(t *testing.T) {
	err := domain.NewError(domain.ErrDuplicateKey, "movie", "title")
	assert.Equal(t, "duplicate key: movie.title", err.Error())
	assert.ErrorIs(t, err, domain.ErrDuplicateKey)
}

func TestMigrationError(t *testing.T) {
	cause := errors.New("syntax error")
	err := &domain.MigrationError{Revision: "0002_unique_movie_title", Err: cause}
	assert.ErrorIs(t, err, domain.ErrMigrationFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "0002_unique_movie_title")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, domain.IsRetryable(domain.ErrLocked))
	assert.True(t, domain.IsRetryable(domain.ErrPoolExhausted))
	assert.False(t, domain.IsRetryable(domain.ErrDuplicateKey))
}
