package tracking

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/listmill/listmill/internal/db"
	"github.com/listmill/listmill/internal/metrics"
	"github.com/listmill/listmill/internal/models"
	"github.com/listmill/listmill/internal/repository"
)

type fixture struct {
	campaigns   *repository.CampaignRepository
	subscribers *repository.SubscriberRepository
	recipients  *repository.RecipientRepository
	router      chi.Router
}

func setup(t *testing.T) *fixture {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	f := &fixture{
		campaigns:   repository.NewCampaignRepository(database.DB),
		subscribers: repository.NewSubscriberRepository(database.DB),
		recipients:  repository.NewRecipientRepository(database.DB),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(f.campaigns, f.recipients, metrics.New(), logger)
	f.router = chi.NewRouter()
	h.RegisterRoutes(f.router)
	return f
}

// seedRecipient creates a campaign with one queued recipient and returns both
// ids.
func (f *fixture) seedRecipient(t *testing.T) (campaignID, subscriberID string) {
	t.Helper()
	c := &models.Campaign{Subject: "s", HTMLBody: "<body></body>"}
	if err := f.campaigns.Create(c); err != nil {
		t.Fatalf("Create campaign failed: %v", err)
	}
	sub := &models.Subscriber{Email: "a@example.com", Status: models.SubscriberStatusActive}
	if err := f.subscribers.Create(sub); err != nil {
		t.Fatalf("Create subscriber failed: %v", err)
	}
	if err := f.recipients.Enqueue(c.ID, []models.Subscriber{*sub}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return c.ID, sub.ID
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestOpenRecordsFirstOccurrence(t *testing.T) {
	f := setup(t)
	cid, sid := f.seedRecipient(t)

	rec := f.get("/track/open?cid=" + cid + "&sid=" + sid)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("expected image/gif, got %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), transparentGIF) {
		t.Error("response body is not the pixel")
	}

	c, _ := f.campaigns.GetByID(cid)
	if c.TotalOpened != 1 {
		t.Errorf("expected total_opened=1, got %d", c.TotalOpened)
	}

	// Repeats serve the pixel but do not move the counter
	f.get("/track/open?cid=" + cid + "&sid=" + sid)
	c, _ = f.campaigns.GetByID(cid)
	if c.TotalOpened != 1 {
		t.Errorf("expected total_opened to stay at 1, got %d", c.TotalOpened)
	}
}

func TestOpenNeverFails(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		path string
	}{
		{"unknown ids", "/track/open?cid=nope&sid=nope"},
		{"missing cid", "/track/open?sid=x"},
		{"missing sid", "/track/open?cid=x"},
		{"no params", "/track/open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(tt.path)
			if rec.Code != http.StatusOK {
				t.Errorf("expected 200, got %d", rec.Code)
			}
			if !bytes.Equal(rec.Body.Bytes(), transparentGIF) {
				t.Error("expected pixel body")
			}
		})
	}
}

func TestClickRecordsAndRedirects(t *testing.T) {
	f := setup(t)
	cid, sid := f.seedRecipient(t)

	target := "https://example.com/post?id=1"
	rec := f.get("/track/click?cid=" + cid + "&sid=" + sid + "&url=" + url.QueryEscape(target))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != target {
		t.Errorf("expected redirect to %q, got %q", target, loc)
	}

	c, _ := f.campaigns.GetByID(cid)
	if c.TotalClicked != 1 {
		t.Errorf("expected total_clicked=1, got %d", c.TotalClicked)
	}

	f.get("/track/click?cid=" + cid + "&sid=" + sid + "&url=" + url.QueryEscape(target))
	c, _ = f.campaigns.GetByID(cid)
	if c.TotalClicked != 1 {
		t.Errorf("expected total_clicked to stay at 1, got %d", c.TotalClicked)
	}

	rcpt, err := f.recipients.ListByCampaign(cid, "")
	if err != nil || len(rcpt) != 1 {
		t.Fatalf("ListByCampaign: %d rows, err %v", len(rcpt), err)
	}
	if rcpt[0].ClickedAt == nil {
		t.Error("expected clicked_at on recipient")
	}
}

func TestClickRedirectsEvenForUnknownIDs(t *testing.T) {
	f := setup(t)

	target := "https://example.com/x"
	rec := f.get("/track/click?cid=nope&sid=nope&url=" + url.QueryEscape(target))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != target {
		t.Errorf("expected redirect to %q, got %q", target, loc)
	}
}

func TestClickFallsBackOnBadTargets(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		path string
	}{
		{"missing url", "/track/click?cid=x&sid=y"},
		{"javascript scheme", "/track/click?cid=x&sid=y&url=" + url.QueryEscape("javascript:alert(1)")},
		{"relative target", "/track/click?cid=x&sid=y&url=" + url.QueryEscape("//evil.example.com")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(tt.path)
			if rec.Code != http.StatusFound {
				t.Fatalf("expected 302, got %d", rec.Code)
			}
			if loc := rec.Header().Get("Location"); loc != "/" {
				t.Errorf("expected fallback redirect, got %q", loc)
			}
		})
	}
}
