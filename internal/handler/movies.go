package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/msomdec/movie-catalogue/internal/domain"
	"github.com/msomdec/movie-catalogue/internal/service"
)

// MovieHandler serves the movie and rating endpoints.
type MovieHandler struct {
	catalogue *service.CatalogueService
	l         *zap.Logger
}

// NewMovieHandler creates a new MovieHandler.
func NewMovieHandler(catalogue *service.CatalogueService, l *zap.Logger) *MovieHandler {
	return &MovieHandler{
		catalogue: catalogue,
		l:         l,
	}
}

// HandleList handles GET /movies?skip=&limit=.
func (h *MovieHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeDomainError(w, r, h.l, domain.NewError(domain.ErrValidation, "page", "skip"))
		return
	}

	limit, err := queryInt(r, "limit", domain.DefaultListLimit)
	if err != nil {
		writeDomainError(w, r, h.l, domain.NewError(domain.ErrValidation, "page", "limit"))
		return
	}

	movies, err := h.catalogue.ListMovies(r.Context(), skip, limit)
	if err != nil {
		writeDomainError(w, r, h.l, err)
		return
	}

	writeJSON(w, h.l, http.StatusOK, toMovieDTOs(movies))
}

// HandleCreate handles POST /movies.
func (h *MovieHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateMovieRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, h.l, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, err := h.catalogue.CreateMovie(r.Context(), domain.MovieInput{
		Title: req.Title,
		Year:  req.Year,
		Genre: req.Genre,
	})
	if err != nil {
		writeDomainError(w, r, h.l, err)
		return
	}

	w.Header().Set("Location", "/movies/"+strconv.FormatInt(m.ID, 10))
	writeJSON(w, h.l, http.StatusCreated, toMovieDTO(m))
}

// HandleGet handles GET /movies/{id}.
func (h *MovieHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.movieID(w, r)
	if !ok {
		return
	}

	m, err := h.catalogue.GetMovie(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.l, err)
		return
	}

	writeJSON(w, h.l, http.StatusOK, toMovieDTO(m))
}

// HandleDelete handles DELETE /movies/{id}.
func (h *MovieHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.movieID(w, r)
	if !ok {
		return
	}

	if err := h.catalogue.DeleteMovie(r.Context(), id); err != nil {
		writeDomainError(w, r, h.l, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDetails handles GET /movies/{id}/details.
func (h *MovieHandler) HandleDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := h.movieID(w, r)
	if !ok {
		return
	}

	d, err := h.catalogue.MovieDetails(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.l, err)
		return
	}

	writeJSON(w, h.l, http.StatusOK, toMovieDetailsDTO(d))
}

// HandleListRatings handles GET /movies/{id}/ratings.
func (h *MovieHandler) HandleListRatings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.movieID(w, r)
	if !ok {
		return
	}

	ratings, err := h.catalogue.ListRatings(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.l, err)
		return
	}

	writeJSON(w, h.l, http.StatusOK, toRatingDTOs(ratings))
}

// HandleAddRating handles POST /movies/{id}/ratings.
func (h *MovieHandler) HandleAddRating(w http.ResponseWriter, r *http.Request) {
	id, ok := h.movieID(w, r)
	if !ok {
		return
	}

	var req CreateRatingRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, h.l, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rating, err := h.catalogue.AddRating(r.Context(), id, domain.RatingInput{
		Score:   req.Score,
		Comment: req.Comment,
	})
	if err != nil {
		writeDomainError(w, r, h.l, err)
		return
	}

	writeJSON(w, h.l, http.StatusCreated, toRatingDTO(rating))
}

// movieID parses the {id} path value, writing a 400 response if it is invalid.
func (h *MovieHandler) movieID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeDomainError(w, r, h.l, domain.NewError(domain.ErrValidation, "movie", "id"))
		return 0, false
	}

	return id, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}

	return strconv.Atoi(v)
}
