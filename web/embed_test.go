package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSPAHandler(t *testing.T) {
	t.Parallel()
	h := SPAHandler()

	for _, path := range []string{"/", "/signin", "/customize/assistant"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s status = %d", path, rec.Code)
			continue
		}
		if !strings.Contains(rec.Body.String(), "/ws/assistant") {
			t.Errorf("GET %s did not serve the client", path)
		}
	}
}
