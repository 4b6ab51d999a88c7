// Package tracking serves the open/click endpoints embedded in delivered
// emails. These handlers never surface errors: an email client must never see
// a broken pixel, and a reader's navigation must never be interrupted.
package tracking

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/listmill/listmill/internal/metrics"
	"github.com/listmill/listmill/internal/repository"
)

// transparentGIF is a fixed 1x1 transparent GIF.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type Handler struct {
	campaigns  *repository.CampaignRepository
	recipients *repository.RecipientRepository
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewHandler(campaigns *repository.CampaignRepository, recipients *repository.RecipientRepository, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		campaigns:  campaigns,
		recipients: recipients,
		metrics:    m,
		logger:     logger.With("component", "tracking"),
	}
}

// RegisterRoutes mounts the tracking endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/track/open", h.Open)
	r.Get("/track/click", h.Click)
}

// Open records an open and always answers with the pixel.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("cid")
	subscriberID := r.URL.Query().Get("sid")

	if campaignID != "" && subscriberID != "" {
		first, err := h.recipients.MarkOpened(campaignID, subscriberID, time.Now())
		if err != nil {
			h.logger.Error("failed to record open", "campaign_id", campaignID, "error", err)
		} else if first {
			h.metrics.OpensTotal.Inc()
			if err := h.campaigns.IncrementOpened(campaignID); err != nil {
				h.logger.Error("failed to count open", "campaign_id", campaignID, "error", err)
			}
		}
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(transparentGIF)
}

// Click records a click and redirects to the decoded target regardless of
// whether the identifiers resolve.
func (h *Handler) Click(w http.ResponseWriter, r *http.Request) {
	campaignID := r.URL.Query().Get("cid")
	subscriberID := r.URL.Query().Get("sid")
	target := r.URL.Query().Get("url")

	if campaignID != "" && subscriberID != "" {
		first, err := h.recipients.MarkClicked(campaignID, subscriberID, time.Now())
		if err != nil {
			h.logger.Error("failed to record click", "campaign_id", campaignID, "error", err)
		} else if first {
			h.metrics.ClicksTotal.Inc()
			if err := h.campaigns.IncrementClicked(campaignID); err != nil {
				h.logger.Error("failed to count click", "campaign_id", campaignID, "error", err)
			}
		}
	}

	http.Redirect(w, r, safeTarget(target), http.StatusFound)
}

// safeTarget keeps the redirect from becoming a broken page when the url
// parameter is missing or mangled.
func safeTarget(target string) string {
	if target == "" {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "/"
	}
	return target
}
