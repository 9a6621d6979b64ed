package httpx

import "net/http"

// POST /admin/seed (development only) fills an empty backend with demo data.
func HandleAdminSeed(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !app.Config.NoAuth {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "seeding requires NO_AUTH"})
			return
		}
		if err := app.Store.SeedIfEmpty(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
