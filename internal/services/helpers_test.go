package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rahu7v3rma/soreal-sub001/internal/email"
	"github.com/rahu7v3rma/soreal-sub001/internal/events"
	"github.com/rahu7v3rma/soreal-sub001/internal/inference"
	"github.com/rahu7v3rma/soreal-sub001/internal/payments"
	"github.com/rahu7v3rma/soreal-sub001/internal/repo"
	"github.com/rahu7v3rma/soreal-sub001/internal/storage"
)

// newTestDB opens a private in-memory database on a single connection so
// transactions and plain reads never contend for the shared-cache lock.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

var errBoom = errors.New("boom")

// ---------- inference ----------

type stubInference struct {
	generateFn func(ctx context.Context, o inference.GenerateOptions) (*inference.Result, error)
	upscaleFn  func(ctx context.Context, url string, scale int) (*inference.Result, error)
	removeFn   func(ctx context.Context, url string) (*inference.Result, error)
	downloadFn func(ctx context.Context, url string) ([]byte, string, error)

	mu    sync.Mutex
	calls int
}

func (s *stubInference) hit() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *stubInference) Generate(ctx context.Context, o inference.GenerateOptions) (*inference.Result, error) {
	s.hit()
	if s.generateFn != nil {
		return s.generateFn(ctx, o)
	}
	return &inference.Result{TaskID: "t1", URL: "https://gw.example.com/out.png"}, nil
}

func (s *stubInference) Upscale(ctx context.Context, url string, scale int) (*inference.Result, error) {
	s.hit()
	if s.upscaleFn != nil {
		return s.upscaleFn(ctx, url, scale)
	}
	return &inference.Result{TaskID: "t2", URL: "https://gw.example.com/up.png"}, nil
}

func (s *stubInference) RemoveBackground(ctx context.Context, url string) (*inference.Result, error) {
	s.hit()
	if s.removeFn != nil {
		return s.removeFn(ctx, url)
	}
	return &inference.Result{TaskID: "t3", URL: "https://gw.example.com/cut.png"}, nil
}

func (s *stubInference) Download(ctx context.Context, url string) ([]byte, string, error) {
	if s.downloadFn != nil {
		return s.downloadFn(ctx, url)
	}
	return []byte("\x89PNG"), "image/png", nil
}

// ---------- storage ----------

type stubStore struct {
	uploadFn func(ctx context.Context, userID string, data []byte, ct string) (*storage.Object, error)

	mu      sync.Mutex
	uploads int
}

func (s *stubStore) Upload(ctx context.Context, userID string, data []byte, ct string) (*storage.Object, error) {
	s.mu.Lock()
	s.uploads++
	s.mu.Unlock()
	if s.uploadFn != nil {
		return s.uploadFn(ctx, userID, data, ct)
	}
	key := "generations/" + userID + "/img.png"
	return &storage.Object{Key: key, URL: "https://cdn.example.com/" + key}, nil
}

// ---------- email / events ----------

type stubMailer struct {
	sent []email.GenerationReady
	err  error
}

func (m *stubMailer) SendGenerationReady(_ context.Context, msg email.GenerationReady) error {
	m.sent = append(m.sent, msg)
	return m.err
}

type stubEvents struct {
	mu   sync.Mutex
	evts []events.Event
}

func (p *stubEvents) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evts = append(p.evts, e)
	return nil
}

func (p *stubEvents) Close() error { return nil }

func (p *stubEvents) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.evts))
	for _, e := range p.evts {
		out = append(out, e.Type)
	}
	return out
}

// ---------- payments ----------

type stubGateway struct {
	createFn    func(ctx context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error)
	getFn       func(ctx context.Context, id string) (*payments.CheckoutSession, error)
	getSubFn    func(ctx context.Context, id string) (*payments.Subscription, error)
	getPriceFn  func(ctx context.Context, id string) (*payments.Price, error)
	cancelFn    func(ctx context.Context, id string) error
	parseHookFn func(payload []byte, sig string) (*payments.Event, error)

	lastCreate payments.CheckoutRequest
	canceled   []string
}

func (g *stubGateway) CreateCheckout(ctx context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	g.lastCreate = req
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	return &payments.CheckoutSession{ID: "cs_" + req.ProductID, URL: "https://checkout.example.com/" + req.ProductID}, nil
}

func (g *stubGateway) GetCheckout(ctx context.Context, id string) (*payments.CheckoutSession, error) {
	if g.getFn != nil {
		return g.getFn(ctx, id)
	}
	return nil, errBoom
}

func (g *stubGateway) GetSubscription(ctx context.Context, id string) (*payments.Subscription, error) {
	if g.getSubFn != nil {
		return g.getSubFn(ctx, id)
	}
	return nil, errBoom
}

func (g *stubGateway) GetPrice(ctx context.Context, id string) (*payments.Price, error) {
	if g.getPriceFn != nil {
		return g.getPriceFn(ctx, id)
	}
	return &payments.Price{ID: id}, nil
}

func (g *stubGateway) CancelSubscription(ctx context.Context, id string) error {
	g.canceled = append(g.canceled, id)
	if g.cancelFn != nil {
		return g.cancelFn(ctx, id)
	}
	return nil
}

func (g *stubGateway) ParseWebhook(payload []byte, sig string) (*payments.Event, error) {
	if g.parseHookFn != nil {
		return g.parseHookFn(payload, sig)
	}
	return nil, payments.ErrInvalidSignature
}

// ---------- identity ----------

type stubIdentity struct {
	deleted []string
	err     error
}

func (s *stubIdentity) DeleteUser(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return s.err
}
