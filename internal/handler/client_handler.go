package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ebridge/internal/demo"
	"github.com/hitoshi/ebridge/internal/document"
	"github.com/hitoshi/ebridge/internal/middleware"
	"github.com/hitoshi/ebridge/internal/model"
	"github.com/hitoshi/ebridge/internal/security"
)

// DocumentPreparer は書類のアップロードを受け付ける。document.Serviceが実装する。
type DocumentPreparer interface {
	Prepare(ctx context.Context, userID, documentID string) (*document.Upload, error)
}

// AvatarFetcher はアバター画像を取得する。security.AvatarFetcherが実装する。
type AvatarFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*security.Avatar, error)
}

// ClientHandler は顧客向け画面のHTTPハンドラー。
// 表示データはデモデータで、書類と提案の状態はWebセッションごとに保持する。
type ClientHandler struct {
	documents DocumentPreparer
	avatars   AvatarFetcher
	sanitizer TextSanitizer
	now       func() time.Time
}

// NewClientHandler はClientHandlerを生成する。
func NewClientHandler(documents DocumentPreparer, avatars AvatarFetcher, sanitizer TextSanitizer) *ClientHandler {
	return &ClientHandler{
		documents: documents,
		avatars:   avatars,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

type dashboardResponse struct {
	demo.Dashboard
	KYCStatus        model.KYCStatus `json:"kyc_status"`
	KYCLabel         string          `json:"kyc_label"`
	KYCTone          string          `json:"kyc_tone"`
	KYCProgress      int             `json:"kyc_progress"`
	PendingProposals int             `json:"pending_proposals"`
}

// Dashboard はポートフォリオの概要、保有資産、KYCの状態を返す。
// GET /api/dashboard
func (h *ClientHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ws, _, ok := workspaceFrom(w, r)
	if !ok {
		return
	}
	state, _ := middleware.StateFromContext(r.Context())

	kyc := model.KYCPending
	if state.Profile != nil {
		kyc = state.Profile.KYCStatus
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		Dashboard:        demo.DashboardView(),
		KYCStatus:        kyc,
		KYCLabel:         kyc.Label(),
		KYCTone:          kyc.Tone(),
		KYCProgress:      ws.KYCProgress(),
		PendingProposals: ws.PendingProposals(),
	})
}

// Portfolio は資産ごとの評価額と月間変動を返す。
// GET /api/portfolio
func (h *ClientHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := demo.PortfolioView()
	if err != nil {
		slog.Error("failed to build portfolio", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type documentsResponse struct {
	Documents []demo.Document `json:"documents"`
	Progress  int             `json:"progress"`
}

// Documents はKYC書類の一覧と提出率を返す。
// GET /api/documents
func (h *ClientHandler) Documents(w http.ResponseWriter, r *http.Request) {
	ws, _, ok := workspaceFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, documentsResponse{
		Documents: ws.Documents(),
		Progress:  ws.KYCProgress(),
	})
}

type uploadResponse struct {
	Document demo.Document   `json:"document"`
	Upload   *document.Upload `json:"upload"`
	Progress int              `json:"progress"`
}

// UploadDocument は書類のアップロードを受け付け、書類を提出済みにする。
// オブジェクトストレージが設定されている場合は署名付きURLを返す。
// POST /api/documents/{id}/upload
func (h *ClientHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	ws, userID, ok := workspaceFrom(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	doc, err := ws.Document(id)
	if err != nil {
		handleWorkspaceError(w, err, id)
		return
	}
	if doc.Status == demo.DocumentCompleted {
		handleWorkspaceError(w, demo.ErrDocumentAlreadyUploaded, id)
		return
	}

	upload, err := h.documents.Prepare(r.Context(), userID, id)
	if err != nil {
		slog.Error("failed to prepare document upload",
			slog.String("user_id", userID),
			slog.String("document_id", id),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	doc, err = ws.MarkUploaded(id)
	if err != nil {
		handleWorkspaceError(w, err, id)
		return
	}

	slog.Info("document uploaded",
		slog.String("user_id", userID),
		slog.String("document_id", id),
		slog.Bool("simulated", upload.Simulated),
	)
	writeJSON(w, http.StatusOK, uploadResponse{
		Document: doc,
		Upload:   upload,
		Progress: ws.KYCProgress(),
	})
}

type proposalsResponse struct {
	Proposals    []demo.Proposal `json:"proposals"`
	PendingCount int             `json:"pending_count"`
}

// Proposals は投資提案の一覧と回答待ちの件数を返す。
// GET /api/proposals
func (h *ClientHandler) Proposals(w http.ResponseWriter, r *http.Request) {
	ws, _, ok := workspaceFrom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, proposalsResponse{
		Proposals:    ws.Proposals(),
		PendingCount: ws.PendingProposals(),
	})
}

type decisionRequest struct {
	Action    string `json:"action"`
	Confirmed bool   `json:"confirmed"`
}

// DecideProposal は回答待ちの提案を承認または却下する。confirmedがtrueでなければ拒否する。
// POST /api/proposals/{id}/decision
func (h *ClientHandler) DecideProposal(w http.ResponseWriter, r *http.Request) {
	ws, userID, ok := workspaceFrom(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	decision, err := demo.ParseDecision(req.Action)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDecisionError(req.Action))
		return
	}

	id := chi.URLParam(r, "id")
	proposal, err := ws.Decide(id, decision, req.Confirmed)
	if err != nil {
		if errors.Is(err, demo.ErrInvalidDecision) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidDecisionError(req.Action))
			return
		}
		handleWorkspaceError(w, err, id)
		return
	}

	slog.Info("proposal decided",
		slog.String("user_id", userID),
		slog.String("proposal_id", id),
		slog.String("decision", string(decision)),
	)
	writeJSON(w, http.StatusOK, proposal)
}

type chatResponse struct {
	Messages []demo.ChatMessage `json:"messages"`
}

// ChatMessages はサポートチャットの履歴を返す。
// GET /api/chat/messages
func (h *ClientHandler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chatResponse{Messages: demo.ChatHistory()})
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// SendMessage はメッセージを無害化して受け付ける。メッセージは保存しない。
// POST /api/chat/messages
func (h *ClientHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := demo.ComposeMessage(h.sanitizer.Sanitize(req.Message), h.now())
	if err != nil {
		handleWorkspaceError(w, err, "")
		return
	}

	userID, _ := middleware.UserIDFromContext(r.Context())
	slog.Info("chat message sent",
		slog.String("user_id", userID),
		slog.String("message_id", msg.ID),
		slog.Int("length", len(msg.Message)),
	)
	writeJSON(w, http.StatusCreated, msg)
}

// Avatar はプロフィールのアバター画像を取得して返す。
// GET /api/profile/avatar
func (h *ClientHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	state, _ := middleware.StateFromContext(r.Context())
	if state.Profile == nil || state.Profile.AvatarURL == nil || *state.Profile.AvatarURL == "" {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAvatarNotSetError())
		return
	}

	avatar, err := h.avatars.Fetch(r.Context(), *state.Profile.AvatarURL)
	if err != nil {
		slog.Warn("failed to fetch avatar",
			slog.String("user_id", state.Profile.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewAvatarFetchFailedError())
		return
	}

	w.Header().Set("Content-Type", avatar.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(avatar.Data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(avatar.Data)
}
