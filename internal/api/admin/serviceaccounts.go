// Package admin implements the authenticated management endpoints: service
// account lifecycle for identity owners and cache control for staff.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
	"github.com/thunderstore-io/thunderstore-registry/internal/middleware"
	"github.com/thunderstore-io/thunderstore-registry/internal/serviceaccounts"
	"github.com/thunderstore-io/thunderstore-registry/internal/telemetry"
)

// ServiceAccountManager is the service account lifecycle.
type ServiceAccountManager interface {
	Create(ctx context.Context, requester *models.User, identityID uuid.UUID) (*serviceaccounts.Created, error)
	Delete(ctx context.Context, requester *models.User, serviceAccountID uuid.UUID) error
	List(ctx context.Context, requester *models.User, identityID uuid.UUID) ([]models.ServiceAccount, error)
}

// ServiceAccountHandlers handles service account endpoints
type ServiceAccountHandlers struct {
	accounts ServiceAccountManager
}

// NewServiceAccountHandlers creates a new ServiceAccountHandlers instance
func NewServiceAccountHandlers(accounts ServiceAccountManager) *ServiceAccountHandlers {
	return &ServiceAccountHandlers{accounts: accounts}
}

// @Summary      List service accounts
// @Tags         ServiceAccounts
// @Security     Bearer
// @Produce      json
// @Param        identity  path  string  true  "Uploader identity ID"
// @Success      200  {object}  map[string]interface{}  "service_accounts"
// @Failure      403  {object}  map[string]interface{}
// @Router       /api/experimental/identity/{identity}/service-accounts/ [get]
func (h *ServiceAccountHandlers) List(c *gin.Context) {
	identityID, ok := parseUUIDParam(c, "identity")
	if !ok {
		return
	}

	accounts, err := h.accounts.List(c.Request.Context(), middleware.CurrentUser(c), identityID)
	if err != nil {
		writeError(c, "service_accounts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"service_accounts": accounts})
}

// @Summary      Create service account
// @Description  Creates a service account under the identity. The token is returned only in this response.
// @Tags         ServiceAccounts
// @Security     Bearer
// @Produce      json
// @Param        identity  path  string  true  "Uploader identity ID"
// @Success      201  {object}  serviceaccounts.Created
// @Failure      403  {object}  map[string]interface{}  "Requester is not an owner of the identity"
// @Router       /api/experimental/identity/{identity}/service-accounts/ [post]
func (h *ServiceAccountHandlers) Create(c *gin.Context) {
	identityID, ok := parseUUIDParam(c, "identity")
	if !ok {
		return
	}

	created, err := h.accounts.Create(c.Request.Context(), middleware.CurrentUser(c), identityID)
	if err != nil {
		writeError(c, "service_accounts", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// @Summary      Delete service account
// @Tags         ServiceAccounts
// @Security     Bearer
// @Param        id  path  string  true  "Service account ID"
// @Success      204
// @Failure      403  {object}  map[string]interface{}  "Requester is not an owner of the identity"
// @Router       /api/experimental/service-account/{id}/ [delete]
func (h *ServiceAccountHandlers) Delete(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.accounts.Delete(c.Request.Context(), middleware.CurrentUser(c), id); err != nil {
		writeError(c, "service_accounts", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + " ID"})
		return uuid.Nil, false
	}
	return id, true
}

func writeError(c *gin.Context, component string, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		telemetry.CaptureError(component, err)
	}
	c.JSON(status, apperrors.Response(err))
}
