package server

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// registerAdminRoutes exposes the bot's administrative operations over HTTP.
// Only wired when a bot was provided; the routes sit under /api/ so they are
// covered by the Bearer middleware.
func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/channels", s.handleAddChannel)
	mux.HandleFunc("DELETE /api/channels/{channel}", s.handleRemoveChannel)
	mux.HandleFunc("DELETE /api/channels/{channel}/files/{message}", s.handleDeleteFile)
	mux.HandleFunc("POST /api/channels/{channel}/backfill", s.handleBackfill)
}

type addChannelRequest struct {
	ChannelID   int64  `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

func (s *Server) handleAddChannel(w http.ResponseWriter, r *http.Request) {
	var req addChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelID == 0 {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.bot.AddChannel(r.Context(), req.ChannelID, req.ChannelName); err != nil {
		s.serverError(w, r, "adding channel", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRemoveChannel(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(r.PathValue("channel"), 10, 64)
	if err != nil {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}

	if err := s.bot.RemoveChannel(r.Context(), channelID); err != nil {
		s.serverError(w, r, "removing channel", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(r.PathValue("channel"), 10, 64)
	if err != nil {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}
	messageID, err := strconv.ParseInt(r.PathValue("message"), 10, 64)
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	if err := s.bot.DeleteFile(r.Context(), channelID, messageID); err != nil {
		s.serverError(w, r, "deleting file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type backfillRequest struct {
	FirstID int64 `json:"first_id"`
	LastID  int64 `json:"last_id"`
}

type backfillResponse struct {
	Fetched       int `json:"fetched"`
	Skipped       int `json:"skipped"`
	FailedBatches int `json:"failed_batches"`
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(r.PathValue("channel"), 10, 64)
	if err != nil {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}

	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FirstID == 0 || req.LastID == 0 {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.bot.Backfill(r.Context(), channelID, req.FirstID, req.LastID)
	if err != nil {
		s.serverError(w, r, "running backfill", err)
		return
	}

	s.writeJSON(w, backfillResponse{
		Fetched:       res.Fetched,
		Skipped:       res.Skipped,
		FailedBatches: res.FailedBatches,
	})
}
