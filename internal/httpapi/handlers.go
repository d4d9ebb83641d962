package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/panjf2000/ants/v2"
	"github.com/spigell/assessment-recommender/internal/logger"
	"github.com/spigell/assessment-recommender/internal/recommend"
	"go.uber.org/zap"
)

var (
	vld     *validator.Validate
	vldOnce sync.Once
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type recommendRequest struct {
	Query      string `validate:"required"`
	MaxResults int    `validate:"min=1,max=10"`
}

// RecommendResponse is the body of a successful /recommend call.
type RecommendResponse struct {
	Recommendations []recommend.Recommendation `json:"recommendations"`
	Message         string                     `json:"message,omitempty"`
}

type outcome struct {
	result *recommend.Result
	err    error
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeError(w, fmt.Errorf("%w: %v", errUnavailable, err), nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) recommendHandler(w http.ResponseWriter, r *http.Request) {
	req, details, err := parseRecommendRequest(r)
	if err != nil {
		writeError(w, err, details)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	log := logger.WithRequest(s.logger, middleware.GetReqID(r.Context()), req.Query)

	done := make(chan outcome, 1)
	err = s.pool.Submit(func() {
		result, err := s.recommender.RecommendWithLogger(ctx, log, req.Query, req.MaxResults)
		done <- outcome{result: result, err: err}
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			log.Warn("worker pool is saturated")
			writeError(w, errOverloaded, nil)
			return
		}
		writeError(w, errUnavailable, nil)
		return
	}

	var res outcome
	select {
	case <-ctx.Done():
		log.Warn("recommendation timed out", zap.Error(ctx.Err()))
		writeError(w, errTimeout, nil)
		return
	case res = <-done:
	}

	if res.err != nil {
		if errors.Is(res.err, recommend.ErrEmptyQuery) {
			writeError(w, fmt.Errorf("%w: %v", errInvalidArgument, res.err), nil)
			return
		}
		log.Error("failed to generate recommendations", zap.Error(res.err))
		writeError(w, errInternal, nil)
		return
	}

	body := RecommendResponse{Recommendations: res.result.Recommendations}
	if body.Recommendations == nil {
		body.Recommendations = []recommend.Recommendation{}
	}
	if res.result.Empty {
		body.Message = res.result.Message
	}
	writeJSON(w, http.StatusOK, body)
}

func parseRecommendRequest(r *http.Request) (recommendRequest, map[string]string, error) {
	q := r.URL.Query()
	req := recommendRequest{
		Query:      strings.TrimSpace(q.Get("query")),
		MaxResults: recommend.DefaultMaxResults,
	}

	if raw := strings.TrimSpace(q.Get("max_results")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, map[string]string{"max_results": "integer"}, fmt.Errorf("%w: max_results must be an integer", errInvalidArgument)
		}
		req.MaxResults = n
	}

	if err := getValidator().Struct(req); err != nil {
		details := map[string]string{}
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				details[fieldName(fe.Field())] = fe.Tag()
			}
		}
		return req, details, fmt.Errorf("%w: validation failed", errInvalidArgument)
	}
	return req, nil, nil
}

func fieldName(field string) string {
	switch field {
	case "MaxResults":
		return "max_results"
	default:
		return strings.ToLower(field)
	}
}
