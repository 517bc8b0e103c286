package api

import (
	"errors"
	"log"
	"net/http"

	"sitehost/backend/internal/backup"
	"sitehost/backend/internal/models"
	"sitehost/backend/internal/sites"
)

// writeServiceError maps domain errors onto status codes. Unknown errors are logged and
// reported without detail.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sites.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, sites.ErrLocked):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, models.ErrCollision):
		writeError(w, http.StatusConflict, "already taken, choose another")
	case errors.Is(err, models.ErrGenerationExhausted):
		writeError(w, http.StatusServiceUnavailable, "could not generate a free name, try again")
	case errors.Is(err, models.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, backup.ErrBackupInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, backup.ErrCredentialsMissing), errors.Is(err, backup.ErrBackupsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Printf("api: %v", err)
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}
