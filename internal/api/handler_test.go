//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestErrorAndMessage(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "bad")
	if !strings.Contains(w.Body.String(), `"error":"bad"`) || w.Code != http.StatusBadRequest {
		t.Errorf("Error() wrote %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	Message(w, http.StatusUnauthorized, "Incorrect password!")
	if !strings.Contains(w.Body.String(), `"message":"Incorrect password!"`) {
		t.Errorf("Message() wrote %s", w.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Command string `json:"command"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"command":"open youtube"}`))
	if err := DecodeJSON(httptest.NewRecorder(), r, 1024, &v); err != nil || v.Command != "open youtube" {
		t.Fatalf("DecodeJSON() = %v, %+v", err, v)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"command":"`+strings.Repeat("x", 100)+`"}`))
	if err := DecodeJSON(httptest.NewRecorder(), r, 16, &v); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("oversized body error = %v", err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(httptest.NewRecorder(), r, 16, &v); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("empty body error = %v", err)
	}
}
