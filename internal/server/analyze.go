package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/ledger"
	"github.com/signalx/chartlens/internal/model"
)

type analyzeRequest struct {
	ImageBase64       string `json:"imageBase64"`
	Symbol            string `json:"symbol"`
	Timeframe         string `json:"timeframe"`
	AdditionalContext string `json:"additionalContext"`
	FileType          string `json:"fileType"`
}

type analyzeResponse struct {
	Success    bool                  `json:"success"`
	Analysis   *model.AnalysisResult `json:"analysis"`
	AnalysisID string                `json:"analysisId,omitempty"`
	Timestamp  string                `json:"timestamp"`
}

func (s *Server) handleAnalyzeChart(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	var body analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", "")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if body.ImageBase64 == "" {
		writeError(w, http.StatusBadRequest, "Image data is required", "")
		return
	}

	imageBytes, err := base64.StdEncoding.DecodeString(body.ImageBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image encoding", "imageBase64 must be valid base64")
		return
	}

	mime := sniffImageMIME(imageBytes, body.FileType)
	if mime == "" {
		writeError(w, http.StatusBadRequest, "Unsupported image type", "Please upload a PNG or JPEG image")
		return
	}

	uid := userID(r)
	if uid != "" && s.ledger != nil {
		if err := s.ensureAccount(r.Context(), uid); err != nil {
			s.logger.Error().Err(err).Str("user_id", uid).Msg("account check failed")
			writeError(w, http.StatusInternalServerError, "Failed to verify account", "")
			return
		}
	}

	req := &model.AnalysisRequest{
		ImageBytes:        imageBytes,
		ImageMIME:         mime,
		Symbol:            body.Symbol,
		Timeframe:         body.Timeframe,
		AdditionalContext: body.AdditionalContext,
		UserID:            uid,
	}

	res, err := s.svc.Analyze(r.Context(), req)
	if err != nil {
		s.writeAnalyzeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Success:    true,
		Analysis:   res.Analysis,
		AnalysisID: res.AnalysisID,
		Timestamp:  res.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// ensureAccount creates the credit account with the initial grant on first
// contact and rejects inactive accounts.
func (s *Server) ensureAccount(ctx context.Context, uid string) error {
	if err := s.ledger.Grant(ctx, uid, s.opts.InitialCredits); err != nil {
		return err
	}
	acc, err := s.ledger.Account(ctx, uid)
	if err != nil {
		return err
	}
	if !acc.IsActive {
		return ledger.ErrInactiveAccount
	}
	return nil
}

// writeAnalyzeError maps the gateway error taxonomy onto HTTP statuses.
func (s *Server) writeAnalyzeError(w http.ResponseWriter, err error) {
	var notChart *gateway.NotChartError
	var confErr *gateway.ConfigurationError
	var malformed *gateway.MalformedResponseError
	var provErr *gateway.ProviderError

	switch {
	case errors.As(err, &notChart):
		writeError(w, http.StatusBadRequest,
			"Invalid image. Please upload a trading chart image (candlestick/line chart).",
			notChart.Reason)
	case errors.Is(err, gateway.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "Insufficient credits", "")
	case errors.Is(err, gateway.ErrMissingImage):
		writeError(w, http.StatusBadRequest, "Image data is required", "")
	case errors.Is(err, gateway.ErrImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "Image exceeds maximum allowed size", "")
	case errors.Is(err, ledger.ErrInactiveAccount), errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "User not found or inactive", "")
	case errors.As(err, &confErr):
		writeError(w, http.StatusInternalServerError, "API key configuration error", confErr.Reason)
	case errors.As(err, &malformed):
		writeError(w, http.StatusBadGateway, "Failed to parse AI response", malformed.Error())
	case errors.As(err, &provErr):
		writeError(w, http.StatusBadGateway, "AI provider error", provErr.Error())
	case errors.Is(err, context.Canceled):
		// Client went away; status is moot but finish the exchange.
		writeError(w, http.StatusBadRequest, "Request cancelled", "")
	default:
		s.logger.Error().Err(err).Msg("analysis failed")
		writeError(w, http.StatusInternalServerError, "Failed to analyze chart",
			"An unexpected error occurred during analysis")
	}
}

// sniffImageMIME validates the payload is a supported image. The declared
// fileType is only a hint; the bytes decide.
func sniffImageMIME(data []byte, declared string) string {
	mime := http.DetectContentType(data)
	switch mime {
	case "image/png", "image/jpeg":
		return mime
	}
	// Some exchanges screenshot as webp; accept it when declared.
	if mime == "image/webp" && declared == "image/webp" {
		return mime
	}
	return ""
}
