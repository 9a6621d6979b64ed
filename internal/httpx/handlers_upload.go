package httpx

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"local.dev/chatspace-backend/internal/store"
)

// POST /me/avatar (multipart "file") stores the image under the uploads
// directory and points the caller's photoUrl at it.
func HandleAvatar(app *AppCtx) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 5<<20)
		if err := r.ParseMultipartForm(6 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parse form: " + err.Error()})
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "form file: " + err.Error()})
			return
		}
		defer file.Close()

		head := make([]byte, 512)
		n, _ := io.ReadFull(file, head)
		head = head[:n]
		mtype := http.DetectContentType(head)

		ext := ""
		switch mtype {
		case "image/jpeg":
			ext = ".jpg"
		case "image/png":
			ext = ".png"
		case "image/webp":
			ext = ".webp"
		case "image/gif":
			ext = ".gif"
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported image type: " + mtype})
			return
		}

		uid := currentUID(r)
		ts := time.Now().Format("20060102T150405.000")
		filename := ts + "_" + safeName(uid) + ext
		dst := filepath.Join(app.Config.UploadsDir(), filename)

		out, err := os.Create(dst)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer out.Close()
		if _, err := out.Write(head); err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := io.Copy(out, file); err != nil {
			writeError(w, r, err)
			return
		}

		url := "/uploads/" + filename
		u, err := app.Store.UpsertUser(r.Context(), uid, store.UserPatch{PhotoURL: &url})
		if err != nil {
			_ = os.Remove(dst)
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			return r
		}
		return '-'
	}, s)
	if s == "" {
		return "img"
	}
	return s
}
