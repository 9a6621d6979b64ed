package httpx

import (
	"net/http"

	"local.dev/chatspace-backend/internal/metrics"
	"local.dev/chatspace-backend/internal/search"
)

// GET /search?q=&all=1 evaluates one term against a snapshot of the bases.
// Live, debounced search runs over /live.
func HandleSearch(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("q")
		if term == "" {
			writeJSON(w, http.StatusOK, []search.Result{})
			return
		}
		bases, err := app.Search.Snapshot(r.Context(), currentUID(r), queryBool(r, "all"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		metrics.SearchQueries.WithLabelValues("http").Inc()
		results := search.Search(term, bases)
		if results == nil {
			results = []search.Result{}
		}
		writeJSON(w, http.StatusOK, results)
	}
}
