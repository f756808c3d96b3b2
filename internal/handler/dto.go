package handler

import (
	"time"

	"github.com/msomdec/movie-catalogue/internal/domain"
	"github.com/msomdec/movie-catalogue/internal/service"
)

// ErrorDTO is the JSON representation of a failed request.
type ErrorDTO struct {
	Error string `json:"error"`
}

// MovieDTO is the JSON representation of a movie.
type MovieDTO struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Year      int    `json:"year"`
	Genre     string `json:"genre"`
	CreatedAt string `json:"createdAt"`
}

func toMovieDTO(m *domain.Movie) MovieDTO {
	return MovieDTO{
		ID:        m.ID,
		Title:     m.Title,
		Year:      m.Year,
		Genre:     m.Genre,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func toMovieDTOs(movies []domain.Movie) []MovieDTO {
	dtos := make([]MovieDTO, len(movies))
	for i := range movies {
		dtos[i] = toMovieDTO(&movies[i])
	}
	return dtos
}

// CreateMovieRequest is the body of POST /movies.
// A missing genre defaults to "Unknown".
type CreateMovieRequest struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	Genre string `json:"genre"`
}

// RatingDTO is the JSON representation of a rating.
type RatingDTO struct {
	ID        int64  `json:"id"`
	MovieID   int64  `json:"movieId"`
	Score     int    `json:"score"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"createdAt"`
}

func toRatingDTO(r *domain.Rating) RatingDTO {
	return RatingDTO{
		ID:        r.ID,
		MovieID:   r.MovieID,
		Score:     r.Score,
		Comment:   r.Comment,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
	}
}

func toRatingDTOs(ratings []domain.Rating) []RatingDTO {
	dtos := make([]RatingDTO, len(ratings))
	for i := range ratings {
		dtos[i] = toRatingDTO(&ratings[i])
	}
	return dtos
}

// CreateRatingRequest is the body of POST /movies/{id}/ratings.
type CreateRatingRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// MovieDetailsDTO is a movie with its ratings.
type MovieDetailsDTO struct {
	Movie        MovieDTO    `json:"movie"`
	Ratings      []RatingDTO `json:"ratings"`
	RatingCount  int         `json:"ratingCount"`
	AverageScore float64     `json:"averageScore"`
}

func toMovieDetailsDTO(d *service.MovieDetails) MovieDetailsDTO {
	return MovieDetailsDTO{
		Movie:        toMovieDTO(&d.Movie),
		Ratings:      toRatingDTOs(d.Ratings),
		RatingCount:  len(d.Ratings),
		AverageScore: d.AverageScore,
	}
}

// HealthDTO is the body of GET /healthz.
type HealthDTO struct {
	Status   string `json:"status"`
	Mode     string `json:"mode"`
	Revision string `json:"revision"`
}

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	Password string `json:"password"`
}

// TokenDTO is an issued bearer token.
type TokenDTO struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}
