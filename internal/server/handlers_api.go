package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/machioali/LanguageHelp-sub000/internal/domain"
	"github.com/machioali/LanguageHelp-sub000/internal/errors"
)

// handleListEligible answers "who could take this call right now".
func (s *Server) handleListEligible(c echo.Context) error {
	language := c.QueryParam("language")
	if language == "" {
		return errors.ValidationError("language query parameter is required")
	}

	sessionType := domain.SessionType(c.QueryParam("sessionType"))
	if sessionType == "" {
		sessionType = domain.SessionTypeVRI
	}
	if !domain.ValidSessionType(sessionType) {
		return errors.ValidationError("sessionType must be VRI or OPI")
	}

	eligible, err := s.registry.QueryEligible(c.Request().Context(), language, sessionType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, eligible)
}

func (s *Server) handleGetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid request id")
	}

	req, err := s.dispatcher.Request(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

func (s *Server) handleGetSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid session id")
	}

	sess, err := s.sessions.Snapshot(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}
