// Package boards exposes the board persistence surface: get-or-create,
// save, and the beacon endpoint for page-unload flushes.
package boards

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"boardsync/core"
	"boardsync/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// BoardStore is the persistence dependency of the handlers.
type BoardStore interface {
	GetOrCreate(ctx context.Context, projectID string) (*core.BoardRecord, error)
	Save(ctx context.Context, projectID string, snapshot core.Snapshot) (*core.BoardRecord, error)
}

type boardResponse struct {
	ProjectID string        `json:"projectId"`
	Snapshot  core.Snapshot `json:"snapshot"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type saveRequest struct {
	Snapshot core.Snapshot `json:"snapshot"`
}

type beaconRequest struct {
	ProjectID string        `json:"projectId"`
	Snapshot  core.Snapshot `json:"snapshot"`
}

func renderBoard(w http.ResponseWriter, r *http.Request, record *core.BoardRecord) {
	render.JSON(w, r, boardResponse{
		ProjectID: record.ProjectID,
		Snapshot:  record.Snapshot,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	})
}

func renderStoreError(w http.ResponseWriter, r *http.Request, projectID string, err error) {
	logrus.WithFields(logrus.Fields{
		"project_id": projectID,
		"error":      err,
	}).Error("Board store operation failed")
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, map[string]string{"error": "Failed to access board storage"})
}

// HandleGetOrCreate serves GET /api/v1/projects/{project_id}/board. The
// board is created blank on first access, so the response is never 404
// for an authorized caller.
func HandleGetOrCreate(store BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "project_id")

		record, err := store.GetOrCreate(r.Context(), projectID)
		if err != nil {
			renderStoreError(w, r, projectID, err)
			return
		}
		renderBoard(w, r, record)
	}
}

// HandleSave serves PUT /api/v1/projects/{project_id}/board.
func HandleSave(store BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "project_id")

		var req saveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		record, err := store.Save(r.Context(), projectID, req.Snapshot)
		if err != nil {
			renderStoreError(w, r, projectID, err)
			return
		}
		renderBoard(w, r, record)
	}
}

// HandleBeacon serves POST /api/v1/beacon. Beacon sends happen during
// page unload, so the response is acknowledged before persistence: the
// client is already gone and cannot act on a failure anyway.
func HandleBeacon(store BoardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req beaconRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}
		if req.ProjectID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "projectId is required"})
			return
		}

		// The project id is in the body, not the route, so the write
		// check happens here instead of in RequireProjectAccess.
		claims, ok := middleware.ClaimsFromContext(r.Context())
		if !ok || !claims.CanWrite(req.ProjectID) {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Access to this project is denied"})
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := store.Save(ctx, req.ProjectID, req.Snapshot); err != nil {
				logrus.WithFields(logrus.Fields{
					"project_id": req.ProjectID,
					"error":      err,
				}).Error("Beacon save failed")
				return
			}
			logrus.WithField("project_id", req.ProjectID).Debug("Beacon save completed")
		}()

		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, map[string]string{"status": "accepted"})
	}
}
