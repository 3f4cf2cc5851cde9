package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/platform/middleware/admin"
	"certledger/pkg/platform/middleware/metadata"
	request "certledger/pkg/platform/middleware/request"
	"certledger/pkg/platform/middleware/requesttime"
)

// retryMessage is the only description server-side failures ever carry.
const retryMessage = "issuance/renewal failed, please retry"

const maxRevokeBody = 4 << 10

const maxSubjectBody = 16 << 10

// Service is the lifecycle manager surface the admin routes drive.
type Service interface {
	Issue(ctx context.Context, subjectID id.SubjectID) (models.CertificateView, error)
	Renew(ctx context.Context, subjectID id.SubjectID) (models.CertificateView, error)
	Revoke(ctx context.Context, certID id.CertificateID, remarks string) (models.CertificateView, error)
	RegeneratePDF(ctx context.Context, certID id.CertificateID) (models.CertificateView, error)
	GetActiveCertificate(ctx context.Context, subjectID id.SubjectID) (*models.CertificateView, error)
	GetHistory(ctx context.Context, subjectID id.SubjectID) ([]models.CertificateView, error)
	GetExpiringWithin(ctx context.Context, days int) ([]models.CertificateView, error)
	GetCertificate(ctx context.Context, certID id.CertificateID) (models.CertificateView, error)
	VerifyChain(ctx context.Context, subjectID id.SubjectID) ([]models.CertificateView, error)
	ListPendingArtifactCleanup(ctx context.Context) ([]models.CertificateView, error)
	RegisterSubject(ctx context.Context, subject models.Subject) (models.Subject, error)
	GetSubject(ctx context.Context, subjectID id.SubjectID) (models.Subject, error)
}

// Handler serves the admin certificate routes.
type Handler struct {
	logger     *slog.Logger
	service    Service
	adminToken string
	timeout    time.Duration
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithTimeout bounds each request. It must exceed the service's own
// operation timeout or slow renders surface as 504s.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.timeout = d
	}
}

func New(service Service, adminToken string, opts ...Option) *Handler {
	h := &Handler{
		logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
		service:    service,
		adminToken: adminToken,
		timeout:    2 * time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the admin routes on r.
func (h *Handler) Register(r chi.Router) {
	adminRouter := chi.NewRouter()
	adminRouter.Use(chimiddleware.Recoverer)
	adminRouter.Use(request.RequestID)
	adminRouter.Use(metadata.ClientMetadata)
	adminRouter.Use(request.Logger(h.logger))
	adminRouter.Use(requesttime.Middleware)
	adminRouter.Use(chimiddleware.Timeout(h.timeout))
	adminRouter.Use(admin.RequireAdminToken(h.adminToken, h.logger))

	adminRouter.Put("/subjects/{subjectID}", h.handleRegisterSubject)
	adminRouter.Get("/subjects/{subjectID}", h.handleGetSubject)
	adminRouter.Post("/subjects/{subjectID}/certificates", h.handleIssue)
	adminRouter.Post("/subjects/{subjectID}/certificates/renew", h.handleRenew)
	adminRouter.Get("/subjects/{subjectID}/certificates", h.handleHistory)
	adminRouter.Get("/subjects/{subjectID}/certificates/active", h.handleActive)
	adminRouter.Get("/subjects/{subjectID}/certificates/verify", h.handleVerifyChain)
	adminRouter.Get("/certificates/expiring", h.handleExpiring)
	adminRouter.Get("/certificates/pending-cleanup", h.handlePendingCleanup)
	adminRouter.Get("/certificates/{certificateID}", h.handleGet)
	adminRouter.Post("/certificates/{certificateID}/revoke", h.handleRevoke)
	adminRouter.Post("/certificates/{certificateID}/regenerate", h.handleRegenerate)

	r.Mount("/admin", adminRouter)
}

func (h *Handler) handleRegisterSubject(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	var req SubjectRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSubjectBody)).Decode(&req); err != nil {
		h.logger.WarnContext(r.Context(), "invalid subject request",
			"request_id", request.GetRequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	subject, err := h.service.RegisterSubject(r.Context(), req.toModel(subjectID))
	if err != nil {
		h.writeServiceError(w, r, "register_subject", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSubjectResponse(subject))
}

func (h *Handler) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	subject, err := h.service.GetSubject(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, r, "get_subject", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSubjectResponse(subject))
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.Issue(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, r, "issue", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(view))
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.Renew(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, r, "renew", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(view))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	certID, ok := h.certificateParam(w, r)
	if !ok {
		return
	}
	var req RevokeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRevokeBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.logger.WarnContext(r.Context(), "invalid revoke request",
				"request_id", request.GetRequestID(r.Context()),
				"error", err.Error(),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}
	}
	view, err := h.service.Revoke(r.Context(), certID, req.Remarks)
	if err != nil {
		h.writeServiceError(w, r, "revoke", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(view))
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	certID, ok := h.certificateParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.RegeneratePDF(r.Context(), certID)
	if err != nil {
		h.writeServiceError(w, r, "regenerate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(view))
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetActiveCertificate(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, r, "get_active", err)
		return
	}
	if view == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "subject has no active certificate"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(*view))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	views, err := h.service.GetHistory(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, r, "history", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(views))
}

func (h *Handler) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := h.subjectParam(w, r)
	if !ok {
		return
	}
	views, err := h.service.VerifyChain(r.Context(), subjectID)
	if err != nil {
		h.writeServiceError(w, r, "verify_chain", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(views))
}

func (h *Handler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "days must be an integer"))
			return
		}
		days = parsed
	}
	views, err := h.service.GetExpiringWithin(r.Context(), days)
	if err != nil {
		h.writeServiceError(w, r, "expiring", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(views))
}

func (h *Handler) handlePendingCleanup(w http.ResponseWriter, r *http.Request) {
	views, err := h.service.ListPendingArtifactCleanup(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "pending_cleanup", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(views))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	certID, ok := h.certificateParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.GetCertificate(r.Context(), certID)
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(view))
}

func (h *Handler) subjectParam(w http.ResponseWriter, r *http.Request) (id.SubjectID, bool) {
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid subject ID"))
		return id.SubjectID{}, false
	}
	return subjectID, true
}

func (h *Handler) certificateParam(w http.ResponseWriter, r *http.Request) (id.CertificateID, bool) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid certificate ID"))
		return id.CertificateID{}, false
	}
	return certID, true
}

// writeServiceError returns caller errors as they are and reduces everything
// else to a retry message with the correlation ID. The service has already
// logged the failure in full.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := dErrors.CodeOf(err)
	if httputil.IsCallerError(code) {
		httputil.WriteError(w, err)
		return
	}
	requestID := request.GetRequestID(r.Context())
	h.logger.WarnContext(r.Context(), "certificate request failed",
		"operation", op,
		"code", string(code),
		"request_id", requestID,
	)
	httputil.WriteRetryableError(w, err, retryMessage, requestID)
}
