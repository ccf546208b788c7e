package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mindcare-realtime/internal/apperr"
	"mindcare-realtime/internal/mocks"
	"mindcare-realtime/internal/models"
)

func newMessageRouter() (*gin.Engine, *mocks.MessageServiceMock) {
	msgs := new(mocks.MessageServiceMock)
	return setupRouter(new(mocks.ConversationServiceMock), msgs, new(mocks.NotificationInboxMock)), msgs
}

func TestEditMessage(t *testing.T) {
	router, msgs := newMessageRouter()
	msgs.On("EditMessage", mock.Anything, caller, int64(5), "fixed").Return(models.Message{ID: 5, Content: "fixed", Edited: true}, nil).Once()
	msgs.On("EditMessage", mock.Anything, caller, int64(6), "fixed").Return(nil, apperr.Validation("Deleted messages cannot be edited")).Once()

	rec := serve(router, http.MethodPatch, "/messages/5", `{"content":"fixed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"edited":true`)

	rec = serve(router, http.MethodPatch, "/messages/6", `{"content":"fixed"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Deleted messages cannot be edited"}`, rec.Body.String())

	rec = serve(router, http.MethodPatch, "/messages/5", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	msgs.AssertExpectations(t)
}

func TestDeleteMessage(t *testing.T) {
	router, msgs := newMessageRouter()
	msgs.On("DeleteMessage", mock.Anything, caller, int64(5)).Return(models.Message{ID: 5, Deleted: true}, nil).Once()
	msgs.On("DeleteMessage", mock.Anything, caller, int64(404)).Return(nil, apperr.NotFound("message not found")).Once()

	rec := serve(router, http.MethodDelete, "/messages/5", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodDelete, "/messages/404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	msgs.AssertExpectations(t)
}

func TestReactionRoutes(t *testing.T) {
	router, msgs := newMessageRouter()
	msgs.On("AddReaction", mock.Anything, caller, int64(5), "heart").
		Return(models.Message{ID: 5, Reactions: models.Reactions{models.ReactionHeart: {1}}}, nil).Once()
	msgs.On("RemoveReaction", mock.Anything, caller, int64(5), "heart").
		Return(models.Message{ID: 5, Reactions: models.Reactions{}}, nil).Once()

	rec := serve(router, http.MethodPost, "/messages/5/reactions", `{"reaction":"heart"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message_id":5,"reactions":{"heart":[1]}}`, rec.Body.String())

	rec = serve(router, http.MethodDelete, "/messages/5/reactions/heart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message_id":5,"reactions":{}}`, rec.Body.String())
	msgs.AssertExpectations(t)
}

func TestHistoryAndRead(t *testing.T) {
	router, msgs := newMessageRouter()
	msgs.On("EditHistory", mock.Anything, caller, int64(5)).Return(models.EditHistory{
		MessageID: 5,
		Content:   "v2",
		History:   []models.EditRecord{{MessageID: 5, PreviousContent: "v1", EditedBy: 1}},
	}, nil).Once()
	msgs.On("MarkRead", mock.Anything, caller, int64(5)).Return(nil).Once()

	rec := serve(router, http.MethodGet, "/messages/5/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"previous_content":"v1"`)

	rec = serve(router, http.MethodPost, "/messages/5/read", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	msgs.AssertExpectations(t)
}
