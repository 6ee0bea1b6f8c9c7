package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rahu7v3rma/soreal-sub001/internal/domain"
	"github.com/rahu7v3rma/soreal-sub001/internal/services"
)

// Stubs with function fields; unset fields panic so tests only wire what
// they exercise.

type stubUsers struct {
	getFn     func(ctx context.Context, userID, email string) (*services.Account, error)
	updateFn  func(ctx context.Context, userID, email string, name, avatar *string) (*domain.Profile, error)
	deleteFn  func(ctx context.Context, userID string) error
	gensFn    func(ctx context.Context, userID string, page, size int) ([]domain.Generation, int64, error)
	statsFn   func(ctx context.Context, userID string) (int64, *time.Time, error)
	historyFn func(ctx context.Context, userID string, page, size int) ([]domain.CreditTransaction, int64, error)
}

func (s *stubUsers) Get(ctx context.Context, userID, email string) (*services.Account, error) {
	return s.getFn(ctx, userID, email)
}
func (s *stubUsers) Update(ctx context.Context, userID, email string, n, a *string) (*domain.Profile, error) {
	return s.updateFn(ctx, userID, email, n, a)
}
func (s *stubUsers) Delete(ctx context.Context, userID string) error { return s.deleteFn(ctx, userID) }
func (s *stubUsers) Generations(ctx context.Context, userID string, page, size int) ([]domain.Generation, int64, error) {
	return s.gensFn(ctx, userID, page, size)
}
func (s *stubUsers) GenerationStats(ctx context.Context, userID string) (int64, *time.Time, error) {
	return s.statsFn(ctx, userID)
}
func (s *stubUsers) CreditHistory(ctx context.Context, userID string, page, size int) ([]domain.CreditTransaction, int64, error) {
	return s.historyFn(ctx, userID, page, size)
}

type stubBilling struct {
	catalog   domain.Catalog
	topupFn   func(ctx context.Context, userID, email, id string) (*services.Checkout, error)
	subFn     func(ctx context.Context, userID, email, id string) (*services.Checkout, error)
	verifyFn  func(ctx context.Context, userID, session string) (*services.Settlement, error)
	verifySFn func(ctx context.Context, userID, session string) (*services.Settlement, error)
	cancelFn  func(ctx context.Context, userID string) (*domain.Subscription, error)
	hookFn    func(ctx context.Context, payload []byte, sig string) error
}

func (s *stubBilling) Plans() domain.Catalog { return s.catalog }
func (s *stubBilling) CheckoutTopup(ctx context.Context, u, e, id string) (*services.Checkout, error) {
	return s.topupFn(ctx, u, e, id)
}
func (s *stubBilling) CheckoutSubscription(ctx context.Context, u, e, id string) (*services.Checkout, error) {
	return s.subFn(ctx, u, e, id)
}
func (s *stubBilling) VerifyTopup(ctx context.Context, u, sid string) (*services.Settlement, error) {
	return s.verifyFn(ctx, u, sid)
}
func (s *stubBilling) VerifySubscription(ctx context.Context, u, sid string) (*services.Settlement, error) {
	return s.verifySFn(ctx, u, sid)
}
func (s *stubBilling) Cancel(ctx context.Context, u string) (*domain.Subscription, error) {
	return s.cancelFn(ctx, u)
}
func (s *stubBilling) HandleWebhook(ctx context.Context, p []byte, sig string) error {
	return s.hookFn(ctx, p, sig)
}

type stubGens struct {
	genFn     func(ctx context.Context, c services.Caller, in services.GenerateInput) (*domain.Generation, bool, error)
	upscaleFn func(ctx context.Context, c services.Caller, in services.UpscaleInput) (*domain.Generation, bool, error)
	rmbgFn    func(ctx context.Context, c services.Caller, in services.RemoveBackgroundInput) (*domain.Generation, bool, error)
	getFn     func(ctx context.Context, userID, id string) (*domain.Generation, error)
}

func (s *stubGens) Generate(ctx context.Context, c services.Caller, in services.GenerateInput) (*domain.Generation, bool, error) {
	return s.genFn(ctx, c, in)
}
func (s *stubGens) Upscale(ctx context.Context, c services.Caller, in services.UpscaleInput) (*domain.Generation, bool, error) {
	return s.upscaleFn(ctx, c, in)
}
func (s *stubGens) RemoveBackground(ctx context.Context, c services.Caller, in services.RemoveBackgroundInput) (*domain.Generation, bool, error) {
	return s.rmbgFn(ctx, c, in)
}
func (s *stubGens) Get(ctx context.Context, userID, id string) (*domain.Generation, error) {
	return s.getFn(ctx, userID, id)
}

type stubPrompts struct {
	fn func(ctx context.Context, p string) (*services.Enhancement, error)
}

func (s *stubPrompts) Enhance(ctx context.Context, p string) (*services.Enhancement, error) {
	return s.fn(ctx, p)
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

// asUser mimics RequireUser for handler tests.
func asUser(id, email string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", id)
		c.Set("userEmail", email)
		c.Next()
	}
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}
