package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/profile"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"mode":        s.supervisor.Mode(),
		"connections": s.hub.CountClients(),
	})
}

func (s *Server) handleRealtimeStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":         s.supervisor.IsActive(),
		"mode":           s.supervisor.Mode(),
		"connections":    s.reg.CountConnections(),
		"connectedUsers": len(s.reg.ConnectedUsers()),
	})
}

type likeRequest struct {
	PostID   uuid.UUID `json:"postId"`
	LikedBy  uuid.UUID `json:"likedBy"`
	AuthorID uuid.UUID `json:"authorId"`
}

func (s *Server) handleNotifyLike(w http.ResponseWriter, r *http.Request) {
	var req likeRequest
	if !decode(w, r, &req) {
		return
	}
	s.dispatcher.NotifyPostLiked(r.Context(), req.PostID, req.LikedBy, req.AuthorID)
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued"})
}

type commentRequest struct {
	PostID      uuid.UUID `json:"postId"`
	CommentedBy uuid.UUID `json:"commentedBy"`
	AuthorID    uuid.UUID `json:"authorId"`
}

func (s *Server) handleNotifyComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decode(w, r, &req) {
		return
	}
	s.dispatcher.NotifyPostCommented(r.Context(), req.PostID, req.CommentedBy, req.AuthorID)
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued"})
}

type pollVoteRequest struct {
	PostID         uuid.UUID `json:"postId"`
	VoterID        uuid.UUID `json:"voterId"`
	SelectedOption string    `json:"selectedOption"`
	OptionIndex    int       `json:"optionIndex"`
}

func (s *Server) handleNotifyPollVote(w http.ResponseWriter, r *http.Request) {
	var req pollVoteRequest
	if !decode(w, r, &req) {
		return
	}
	s.dispatcher.NotifyPollVote(r.Context(), req.PostID, req.VoterID, req.SelectedOption, req.OptionIndex)
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued"})
}

type followRequest struct {
	FollowerID uuid.UUID `json:"followerId"`
	FollowedID uuid.UUID `json:"followedId"`
}

func (s *Server) handleNotifyFollow(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if !decode(w, r, &req) {
		return
	}
	s.dispatcher.NotifyUserFollowed(r.Context(), req.FollowerID, req.FollowedID)
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued"})
}

type feedUpdateRequest struct {
	UserIDs    []uuid.UUID `json:"userIds"`
	UpdateType string      `json:"updateType"`
	Data       any         `json:"data"`
}

func (s *Server) handleNotifyFeed(w http.ResponseWriter, r *http.Request) {
	var req feedUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "userIds is required")
		return
	}
	s.dispatcher.NotifyFeedUpdate(req.UserIDs, req.UpdateType, req.Data)
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued"})
}

type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleNotifyTrending(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	s.dispatcher.NotifyTrending(req.Message)
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued"})
}

func (s *Server) handleNotifyMaintenance(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	s.dispatcher.NotifySystemMaintenance(req.Message)
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "queued"})
}

func (s *Server) handleCacheMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.profiles.Metrics())
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}

	snapshot, err := s.profiles.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.logger.Warn("profile lookup failed", zap.String("userID", userID.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "profile lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	s.profiles.Invalidate(r.Context(), userID)
	writeJSON(w, http.StatusOK, statusResponse{Status: "invalidated"})
}

// handleRefresh re-fetches a profile from the origin and tells the user's
// live connections their cached copy changed.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}

	snapshot, err := s.profiles.Refresh(r.Context(), userID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.logger.Warn("profile refresh failed", zap.String("userID", userID.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "profile refresh failed")
		return
	}

	s.dispatcher.NotifyProfileRefreshed(userID)
	writeJSON(w, http.StatusOK, snapshot)
}

type warmUpRequest struct {
	UserIDs []uuid.UUID `json:"userIds"`
}

func (s *Server) handleWarmUp(w http.ResponseWriter, r *http.Request) {
	var req warmUpRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, http.StatusBadRequest, "userIds is required")
		return
	}

	if err := s.profiles.WarmUp(r.Context(), req.UserIDs); err != nil {
		s.logger.Warn("cache warmup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "warmup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "warmed", "count": len(req.UserIDs)})
}
