package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"stocky/backend/internal/domain"
)

func (a *API) handleGetStorefront(w http.ResponseWriter, r *http.Request) {
	tenant, err := a.service.GetStorefront(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"storefront": tenant})
}

func (a *API) handleUpdateStorefront(w http.ResponseWriter, r *http.Request) {
	var req domain.StorefrontUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	tenant, err := a.service.UpdateStorefront(r.Context(), chi.URLParam(r, "tenantID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"storefront": tenant})
}

func (a *API) handlePublicCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.PublicCatalog(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.ListCatalog(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req domain.CatalogEntryCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.CreateEntry(r.Context(), chi.URLParam(r, "tenantID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entry": entry})
}

func (a *API) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req domain.CatalogEntryUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.UpdateEntry(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "entryID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

func (a *API) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var req domain.AvailabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := a.service.SetAvailability(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "entryID"), req.Available)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

func (a *API) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteEntry(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "entryID")); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	adj, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "entryID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"adjustment": adj})
}
