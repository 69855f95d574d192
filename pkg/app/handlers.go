package app

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"civichub/pkg/api"
	myMiddleware "civichub/pkg/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8092,
	WriteBufferSize: 8092,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func writeError(w http.ResponseWriter, err error) {
	var (
		validation *api.ValidationError
		missing    *api.NotFoundError
		invariant  *api.InvariantError
		forbidden  *api.ForbiddenError
	)
	switch {
	case errors.As(err, &validation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &missing) || api.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &invariant):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &forbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case api.IsTransient(err):
		http.Error(w, "store temporarily unavailable", http.StatusServiceUnavailable)
	default:
		log.Printf("Unhandled error: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Unable to encode response: %v", err)
	}
}

// threadFromURL builds the thread reference from the {kind}/{threadId} url
// params and rejects a citizen reaching into someone else's conversation.
func threadFromURL(r *http.Request, actor api.Actor) (api.Thread, error) {
	thread := api.Thread{
		Kind: api.ThreadKind(chi.URLParam(r, "kind")),
		Id:   chi.URLParam(r, "threadId"),
	}
	if thread.Kind != api.ThreadConversation && thread.Kind != api.ThreadRequest {
		return api.Thread{}, &api.ValidationError{Field: "kind", Reason: "must be conversation or request"}
	}
	if thread.Kind == api.ThreadConversation && actor.Role == api.RoleCitizen && thread.Id != actor.Id {
		return api.Thread{}, &api.ForbiddenError{Actor: actor.Id, Action: "access thread " + thread.Id}
	}
	return thread, nil
}

// ---------------------------------------------------------------------------
// Conversation registry
// ---------------------------------------------------------------------------

func (s *Server) GetOrCreateConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		conversation, err := s.services.Conversations.GetOrCreate(r.Context(), actor.Id, actor.Name, actor.Email)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, conversation)
	}
}

func (s *Server) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		conversations, err := s.services.Conversations.List(r.Context(), actor)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, conversations)
	}
}

func (s *Server) GetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		if actor.Role == api.RoleCitizen && conversationId != actor.Id {
			writeError(w, &api.ForbiddenError{Actor: actor.Id, Action: "read conversation " + conversationId})
			return
		}

		conversation, err := s.services.Conversations.Get(r.Context(), conversationId)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, conversation)
	}
}

func (s *Server) PatchConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		patchJSON, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Couldn't read request body", http.StatusBadRequest)
			return
		}

		conversation, err := s.services.Conversations.Patch(r.Context(), actor, conversationId, patchJSON)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, conversation)
	}
}

func (s *Server) MarkConversationAsRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		if err := s.services.Conversations.MarkAsRead(r.Context(), actor, conversationId); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) CloseConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		if err := s.services.Conversations.Close(r.Context(), actor, conversationId); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) DeleteConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		if err := s.services.Conversations.Delete(r.Context(), actor, conversationId); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---------------------------------------------------------------------------
// Message ledger
// ---------------------------------------------------------------------------

func (s *Server) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		var input api.SendMessageInput
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&input); err != nil {
			log.Printf("Unable to unmarshal request body: %v\n", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Identity always comes from the verified token, never the body;
		// thread ownership is enforced inside the service.
		input.SenderId = actor.Id
		input.SenderName = actor.Name
		input.SenderRole = actor.Role

		message, err := s.services.Messages.Send(r.Context(), input)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, message)
	}
}

func (s *Server) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		thread, err := threadFromURL(r, actor)
		if err != nil {
			writeError(w, err)
			return
		}

		messages, err := s.services.Messages.List(r.Context(), thread)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, messages)
	}
}

func (s *Server) MarkMessagesAsRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		thread, err := threadFromURL(r, actor)
		if err != nil {
			writeError(w, err)
			return
		}

		updated, err := s.services.Messages.MarkAsRead(r.Context(), actor, thread)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]int{"updated": updated})
	}
}

// ---------------------------------------------------------------------------
// Typing and presence
// ---------------------------------------------------------------------------

func (s *Server) SetTyping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		if err := s.services.Typing.SetTyping(r.Context(), conversationId, actor); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) GetTyping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationId := chi.URLParam(r, "conversationId")

		userIds, err := s.services.Typing.Typing(r.Context(), conversationId)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string][]string{"userIds": userIds})
	}
}

func (s *Server) Heartbeat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		if err := s.services.Presence.Heartbeat(r.Context(), actor.Id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) GetOnline() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("ids")
		var ids []string
		if raw != "" {
			ids = strings.Split(raw, ",")
		}

		online, err := s.services.Presence.Online(r.Context(), ids)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string][]string{"userIds": online})
	}
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func (s *Server) GetNotifications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		notifications, err := s.services.Notifications.List(r.Context(), actor.Id)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, notifications)
	}
}

func (s *Server) GetUnreadCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		count, err := s.services.Notifications.UnreadCount(r.Context(), actor.Id)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]int{"count": count})
	}
}

func (s *Server) MarkNotificationAsRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())
		notificationId := chi.URLParam(r, "notificationId")

		if err := s.services.Notifications.MarkRead(r.Context(), actor.Id, notificationId); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) MarkAllNotificationsAsRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		if err := s.services.Notifications.MarkAllRead(r.Context(), actor.Id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ---------------------------------------------------------------------------
// Websocket
// ---------------------------------------------------------------------------

func (s *Server) ServeWs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := myMiddleware.ActorFromContext(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println(err)
			return
		}

		client := api.NewClient(s.hub, conn, make(chan []byte, 256), actor, s.services)
		client.Hub.Register <- client

		// Allow collection of memory referenced by the caller by doing all work in
		// new goroutines.
		go client.WritePump()
		go client.ReadPump()
	}
}
