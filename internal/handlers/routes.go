package handlers

import "github.com/gin-gonic/gin"

type socketServer interface {
	ServeConversation(c *gin.Context)
	ServeNotifications(c *gin.Context)
}

// Routes groups the handlers served by the API.
type Routes struct {
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Notifications *NotificationHandler
	Sockets       socketServer
}

// Register mounts every API route on router. Websocket routes authenticate
// themselves and reject through close frames, so they skip authMiddleware.
func Register(router gin.IRouter, authMiddleware gin.HandlerFunc, routes Routes) {
	if routes.Sockets != nil {
		router.GET("/ws/conversations/:conversation_id", routes.Sockets.ServeConversation)
		router.GET("/ws/notifications", routes.Sockets.ServeNotifications)
	}

	api := router.Group("/", authMiddleware)

	convs := routes.Conversations
	api.GET("/conversations", convs.ListConversations)
	api.POST("/conversations/one-to-one", convs.StartOneToOne)
	api.POST("/conversations/groups", convs.CreateGroup)
	api.POST("/conversations/chatbot", convs.StartChatbot)
	api.POST("/conversations/groups/:conversation_id/participants", convs.AddParticipant)
	api.DELETE("/conversations/groups/:conversation_id/participants/:user_id", convs.RemoveParticipant)
	api.PUT("/conversations/groups/:conversation_id/pin", convs.PinMessage)
	api.GET("/conversations/:conversation_id/messages", convs.ListMessages)
	api.POST("/conversations/:conversation_id/messages", convs.SendMessage)

	msgs := routes.Messages
	api.PATCH("/messages/:message_id", msgs.Edit)
	api.DELETE("/messages/:message_id", msgs.Delete)
	api.POST("/messages/:message_id/reactions", msgs.AddReaction)
	api.DELETE("/messages/:message_id/reactions/:reaction", msgs.RemoveReaction)
	api.GET("/messages/:message_id/history", msgs.History)
	api.POST("/messages/:message_id/read", msgs.MarkRead)

	notes := routes.Notifications
	api.GET("/notifications", notes.List)
	api.GET("/notifications/count", notes.Count)
	api.PATCH("/notifications/:notification_id/read", notes.MarkRead)
	api.POST("/notifications/read-all", notes.MarkAllRead)
}
