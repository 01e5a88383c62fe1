// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arvlabs/arv/internal/api/middleware"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/pkg/errors"
)

// fail renders an error response. AppErrors map to their taxonomy status;
// anything else is an internal error.
func fail(c *gin.Context, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		response := gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		}
		if appErr.Details != nil {
			response["details"] = appErr.Details
		}
		c.JSON(appErr.HTTPStatus(), response)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    errors.ErrCodeInternal,
		"message": err.Error(),
	})
}

// badRequest renders a validation failure for malformed bodies.
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    errors.ErrCodeValidation,
		"message": message,
	})
}

// callerModel resolves the acting reviewer identity for a request. An agent
// key pins the identity to its token binding: a body claiming another model
// is rejected. Without a key the caller is the human pseudo-reviewer.
func callerModel(c *gin.Context, claimed, sessionID string) (string, error) {
	token := middleware.TokenFrom(c)
	if token == nil {
		if claimed == "" || claimed == model.HumanModelID {
			return model.HumanModelID, nil
		}
		return "", errors.ErrForbidden("model identity requires an agent key")
	}
	if token.SessionID != "" && sessionID != "" && token.SessionID != sessionID {
		return "", errors.ErrForbidden("agent key belongs to another session")
	}
	if claimed != "" && claimed != token.ModelID {
		return "", errors.ErrForbidden("model_id does not match the agent key")
	}
	return token.ModelID, nil
}

// intQuery parses an optional integer query parameter.
func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
