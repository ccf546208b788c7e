package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindcare-realtime/internal/telemetry"
)

type recordingEmitter struct{ records []telemetry.Record }

func (r *recordingEmitter) Emit(_ context.Context, rec telemetry.Record) {
	r.records = append(r.records, rec)
}

type staticCounter map[string]int

func (s staticCounter) Members(group string) int { return s[group] }

func debugRouter(deps DebugDeps, enabled bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterDebugRoutes(router, fakeAuth, deps, enabled)
	return router
}

func TestDebugAuditTestEmitsRecord(t *testing.T) {
	emitter := &recordingEmitter{}
	router := debugRouter(DebugDeps{Audit: emitter}, true)

	w := serve(router, http.MethodGet, "/debug/audit-test", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, emitter.records, 1)
	assert.Equal(t, "audit_test", emitter.records[0].Action)
	assert.Equal(t, caller.ID, emitter.records[0].UserID)
}

func TestDebugGroupMembers(t *testing.T) {
	router := debugRouter(DebugDeps{Hub: staticCounter{"conversation:3": 2}}, true)

	w := serve(router, http.MethodGet, "/debug/groups/conversation:3", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Group   string `json:"group"`
		Members int    `json:"members"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "conversation:3", body.Group)
	assert.Equal(t, 2, body.Members)
}

func TestDebugRoutesDisabled(t *testing.T) {
	router := debugRouter(DebugDeps{Audit: &recordingEmitter{}}, false)

	w := serve(router, http.MethodGet, "/debug/audit-test", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
