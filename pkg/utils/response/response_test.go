package response

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	appErr "taskoracle/pkg/errors"
	"taskoracle/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, "trace-1")
		c.Request = c.Request.WithContext(ctx)
		handler(c)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return w, resp
}

func TestSuccessEnvelope(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) { Success(c, map[string]string{"task_id": "t1"}) })
	if w.Code != http.StatusOK || resp.Code != appErr.Success || resp.TraceID != "trace-1" {
		t.Fatalf("unexpected envelope: %d %+v", w.Code, resp)
	}
}

func TestErrorEnvelope(t *testing.T) {
	w, resp := serve(t, func(c *gin.Context) {
		Error(c, appErr.Tagged(appErr.MissingConfirmation, "amb_1").WithDetail("ambiguity_id", "amb_1"))
	})
	if w.Code != http.StatusBadRequest || resp.Message != "missing_confirmation:amb_1" {
		t.Fatalf("unexpected error envelope: %d %+v", w.Code, resp)
	}
	if details, ok := resp.Details.(map[string]interface{}); !ok || details["ambiguity_id"] != "amb_1" {
		t.Fatalf("details not rendered: %v", resp.Details)
	}

	w, resp = serve(t, func(c *gin.Context) { Error(c, errors.New("disk on fire")) })
	if w.Code != http.StatusInternalServerError || resp.Code != appErr.InternalServerError {
		t.Fatalf("foreign errors should map to internal: %d %+v", w.Code, resp)
	}
}
