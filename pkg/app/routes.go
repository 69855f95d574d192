package app

import (
	"civichub/config"
	myMiddleware "civichub/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) Routes() *chi.Mux {
	r := s.router
	r.Use(cors.Handler(cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(myMiddleware.FirebaseConfig(config.SetupFirebase()))

	r.Route("/chat", func(r chi.Router) {
		r.Use(myMiddleware.Authenticator)
		r.Post("/conversation", s.GetOrCreateConversation())
		r.Get("/conversation", s.GetConversations())
		r.Get("/conversation/{conversationId}", s.GetConversation())
		r.Patch("/conversation/{conversationId}", s.PatchConversation())
		r.Post("/conversation/{conversationId}/read", s.MarkConversationAsRead())
		r.Post("/conversation/{conversationId}/close", s.CloseConversation())
		r.Delete("/conversation/{conversationId}", s.DeleteConversation())

		r.Post("/message", s.SendMessage())
		r.Get("/messages/{kind}/{threadId}", s.GetMessages())
		r.Post("/messages/{kind}/{threadId}/read", s.MarkMessagesAsRead())

		r.Post("/typing/{conversationId}", s.SetTyping())
		r.Get("/typing/{conversationId}", s.GetTyping())
	})

	r.Route("/presence", func(r chi.Router) {
		r.Use(myMiddleware.Authenticator)
		r.Post("/heartbeat", s.Heartbeat())
		r.Get("/online", s.GetOnline())
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Use(myMiddleware.Authenticator)
		r.Get("/", s.GetNotifications())
		r.Get("/unread-count", s.GetUnreadCount())
		r.Post("/{notificationId}/read", s.MarkNotificationAsRead())
		r.Post("/read-all", s.MarkAllNotificationsAsRead())
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Use(myMiddleware.Authenticator)
		r.Get("/active", s.GetActiveAlert())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(myMiddleware.Authenticator)
		r.Post("/broadcast", s.SendBroadcast())
		r.Get("/broadcast", s.GetBroadcasts())
		r.Delete("/broadcast/{broadcastId}", s.DeleteBroadcast())

		r.Post("/alert", s.CreateAlert())
		r.Post("/alert/{alertId}/resolve", s.ResolveAlert())
		r.Get("/alert", s.GetAlerts())
		r.Delete("/alert/{alertId}", s.DeleteAlert())

		r.Get("/audit", s.GetAuditLogs())
	})

	r.With(myMiddleware.Authenticator).Get("/chat/ws", s.ServeWs())

	return r
}
