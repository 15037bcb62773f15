package httptransport

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
)

type pingRegistrar struct{}

func (pingRegistrar) Register(r chi.Router) {
	r.Get("/api/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type RouterSuite struct {
	suite.Suite
	logger *slog.Logger
}

func (s *RouterSuite) SetupTest() {
	s.logger = slog.Default()
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) get(handler http.Handler, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) TestOpenEndpoints() {
	router := NewRouter(s.logger, "", pingRegistrar{})

	s.Run("health", func() {
		rec := s.get(router, "/health", "")
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"status":"ok"`)
	})

	s.Run("metrics", func() {
		rec := s.get(router, "/metrics", "")
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("api without signing key is open", func() {
		rec := s.get(router, "/api/ping", "")
		s.Equal(http.StatusOK, rec.Code)
	})
}

func (s *RouterSuite) TestAuthenticatedAPI() {
	const key = "router-test-key"
	router := NewRouter(s.logger, key, pingRegistrar{})

	s.Run("api rejects missing token", func() {
		rec := s.get(router, "/api/ping", "")
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("api accepts a signed token", func() {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
			jwt.MapClaims{"sub": "auditor-1"}).SignedString([]byte(key))
		s.Require().NoError(err)

		rec := s.get(router, "/api/ping", token)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("health stays open", func() {
		rec := s.get(router, "/health", "")
		s.Equal(http.StatusOK, rec.Code)
	})
}
