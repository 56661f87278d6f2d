package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/legaldesk/internal/legal"
	"github.com/hitoshi/legaldesk/internal/middleware"
	"github.com/hitoshi/legaldesk/internal/model"
)

// LegalAPIHandler は規約のJSON APIハンドラー。
type LegalAPIHandler struct {
	service LegalServiceInterface
}

// NewLegalAPIHandler はLegalAPIHandlerを生成する。
func NewLegalAPIHandler(service LegalServiceInterface) *LegalAPIHandler {
	return &LegalAPIHandler{service: service}
}

// organizationResponse はプロバイダー情報のAPIレスポンス。
type organizationResponse struct {
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// agreementResponse は規約情報のAPIレスポンス。
type agreementResponse struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
	Page      string    `json:"page,omitempty"`
}

// agreementListResponse は規約一覧のAPIレスポンス。
type agreementListResponse struct {
	Organization organizationResponse `json:"organization"`
	Agreements   []agreementResponse  `json:"agreements"`
}

// agreementDetailResponse は規約詳細のAPIレスポンス。
type agreementDetailResponse struct {
	agreementResponse
	Organization organizationResponse `json:"organization"`
}

// signatureResponse は署名のAPIレスポンス。
type signatureResponse struct {
	ID         string    `json:"id"`
	Agreement  string    `json:"agreement"`
	LastSigned time.Time `json:"last_signed"`
}

// signRequest は署名リクエストのボディ。
type signRequest struct {
	ReadTerms bool `json:"read_terms"`
}

// ListAgreements は規約一覧を返す。
// GET /api/legal?provider=<slug>
func (h *LegalAPIHandler) ListAgreements(w http.ResponseWriter, r *http.Request) {
	org, agreements, err := h.service.ListAgreements(r.Context(), r.URL.Query().Get("provider"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := agreementListResponse{
		Organization: toOrganizationResponse(org),
		Agreements:   make([]agreementResponse, 0, len(agreements)),
	}
	for _, a := range agreements {
		resp.Agreements = append(resp.Agreements, toAgreementResponse(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetAgreement はレンダリング済みHTMLを含む規約詳細を返す。
// GET /api/legal/{agreement}
func (h *LegalAPIHandler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.RenderAgreement(r.Context(), chi.URLParam(r, "agreement"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := agreementDetailResponse{
		agreementResponse: toAgreementResponse(page.Agreement),
		Organization:      toOrganizationResponse(page.Organization),
	}
	resp.Page = page.HTML

	writeJSON(w, http.StatusOK, resp)
}

// Sign は規約への署名を記録する。
// POST /api/legal/{agreement}/sign
func (h *LegalAPIHandler) Sign(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	slug := chi.URLParam(r, "agreement")
	sig, err := h.service.Sign(r.Context(), slug, userID, &legal.SignatureForm{ReadTerms: req.ReadTerms})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, signatureResponse{
		ID:         sig.ID,
		Agreement:  slug,
		LastSigned: sig.LastSigned,
	})
}

// --- ヘルパー関数 ---

func toAgreementResponse(a *model.Agreement) agreementResponse {
	return agreementResponse{
		ID:        a.ID,
		Slug:      a.Slug,
		Title:     a.Title,
		UpdatedAt: a.UpdatedAt,
	}
}

func toOrganizationResponse(org *model.Organization) organizationResponse {
	if org == nil {
		return organizationResponse{}
	}
	return organizationResponse{
		Slug:  org.Slug,
		Name:  org.PrintableName(),
		Email: org.Email,
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
