// Package login exposes the OTP login endpoints.
package login

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	dto "github.com/edline/otpgate/internal/http/dto/login"
	httperrors "github.com/edline/otpgate/internal/http/errors"
	mw "github.com/edline/otpgate/internal/http/middlewares"
	svc "github.com/edline/otpgate/internal/http/services/login"
	"github.com/edline/otpgate/internal/observability/logger"
	"github.com/edline/otpgate/internal/otp/flow"
)

// CookieConfig tells the controller how to write its two cookies.
type CookieConfig struct {
	SessionName  string
	RememberName string
	SessionTTL   time.Duration
	RememberTTL  time.Duration
	// Secure is forced on outside dev.
	Secure bool
}

// OTPController handles /v1/login/otp and the MFA reset endpoint.
type OTPController struct {
	service *svc.OTPService
	cookies CookieConfig
}

// NewOTPController creates the controller.
func NewOTPController(service *svc.OTPService, cookies CookieConfig) *OTPController {
	if cookies.SessionName == "" {
		cookies.SessionName = "otp_sid"
	}
	if cookies.RememberName == "" {
		cookies.RememberName = "otpgate_remember_me"
	}
	return &OTPController{service: service, cookies: cookies}
}

// Initiate handles GET /v1/login/otp. Starts enrollment or
// verification; a valid remember-me cookie short-circuits to verified.
// ?reenroll=1 forces a fresh secret for an already-enrolled principal.
func (c *OTPController) Initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("OTPController.Initiate"))

	out, err := c.service.Initiate(ctx, svc.InitiateInput{
		PrincipalID:    mw.GetPrincipalID(ctx),
		SessionID:      c.cookieValue(r, c.cookies.SessionName),
		RememberCookie: c.cookieValue(r, c.cookies.RememberName),
		ClientIP:       mw.ClientIP(r),
		Reenroll:       r.URL.Query().Get("reenroll") != "",
	})
	if err != nil {
		c.handleError(w, err, log)
		return
	}

	c.setCookie(w, c.cookies.SessionName, out.SessionID, c.cookies.SessionTTL)
	if out.Result.RememberToken != "" {
		c.setCookie(w, c.cookies.RememberName, out.Result.RememberToken, c.cookies.RememberTTL)
	}

	writeJSON(w, http.StatusOK, dto.StatusResponse{
		State:        string(out.Result.State),
		SecretBase32: out.Result.SecretB32,
		OTPAuthURL:   out.Result.OTPAuthURL,
		OTPSent:      out.Result.OTPSent,
		ChannelID:    out.Result.PendingChannelID,
	})
}

// QR handles GET /v1/login/otp/qr: the pending enrollment's
// provisioning URL as a PNG.
func (c *OTPController) QR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("OTPController.QR"))

	url, err := c.service.PendingAuthURL(ctx, mw.GetPrincipalID(ctx), c.cookieValue(r, c.cookies.SessionName))
	if err != nil {
		c.handleError(w, err, log)
		return
	}

	png, err := qrcode.Encode(url, qrcode.Medium, 256)
	if err != nil {
		log.Error("qr encode failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternal)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Submit handles POST /v1/login/otp.
func (c *OTPController) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("OTPController.Submit"))

	var req dto.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return
	}
	if strings.TrimSpace(req.VerificationCode) == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("verification_code is required"))
		return
	}

	res, err := c.service.Submit(ctx, svc.SubmitInput{
		PrincipalID:    mw.GetPrincipalID(ctx),
		SessionID:      c.cookieValue(r, c.cookies.SessionName),
		Code:           req.VerificationCode,
		RememberMe:     req.RememberMe,
		RememberCookie: c.cookieValue(r, c.cookies.RememberName),
		ClientIP:       mw.ClientIP(r),
	})
	if err != nil {
		c.handleError(w, err, log)
		return
	}

	switch res.Outcome {
	case flow.OutcomeVerified:
		if res.RememberToken != "" {
			c.setCookie(w, c.cookies.RememberName, res.RememberToken, c.cookies.RememberTTL)
		}
		writeJSON(w, http.StatusOK, dto.VerifyResponse{
			State:       string(flow.StateVerified),
			BackupCodes: res.BackupCodes,
		})
	case flow.OutcomeNothingPending:
		httperrors.WriteError(w, httperrors.ErrNothingPending)
	default:
		httperrors.WriteError(w, httperrors.ErrInvalidOTPCode)
	}
}

// Cancel handles DELETE /v1/login/otp. Idempotent; also forgets the
// device by clearing the remember-me cookie.
func (c *OTPController) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("OTPController.Cancel"))

	if err := c.service.Cancel(ctx, c.cookieValue(r, c.cookies.SessionName)); err != nil {
		c.handleError(w, err, log)
		return
	}

	c.clearCookie(w, c.cookies.RememberName)
	writeJSON(w, http.StatusOK, dto.StatusResponse{State: string(flow.StateCancelled)})
}

// Reset handles DELETE /v1/users/{userID}/mfa.
func (c *OTPController) Reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("OTPController.Reset"))

	targetID := chi.URLParam(r, "userID")
	if targetID == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("missing user ID"))
		return
	}

	if err := c.service.Reset(ctx, mw.GetPrincipalID(ctx), targetID); err != nil {
		c.handleError(w, err, log)
		return
	}
	writeJSON(w, http.StatusOK, dto.ResetResponse{Reset: true})
}

func (c *OTPController) handleError(w http.ResponseWriter, err error, log *zap.Logger) {
	switch {
	case err == svc.ErrPrincipalNotFound:
		httperrors.WriteError(w, httperrors.ErrUserNotFound)
	case err == svc.ErrNoPendingSecret:
		httperrors.WriteError(w, httperrors.ErrNothingPending.WithDetail("no enrollment in progress"))
	case err == flow.ErrPermissionDenied:
		httperrors.WriteError(w, httperrors.ErrForbidden)
	default:
		log.Error("unexpected otp error", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternal)
	}
}

func (c *OTPController) cookieValue(r *http.Request, name string) string {
	if ck, err := r.Cookie(name); err == nil {
		return ck.Value
	}
	return ""
}

func (c *OTPController) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		ck.Expires = time.Now().Add(ttl).UTC()
	}
	http.SetCookie(w, ck)
}

func (c *OTPController) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
