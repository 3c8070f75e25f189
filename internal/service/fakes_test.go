package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/entity"
	"checkout-service/internal/gateway"
	"checkout-service/internal/repository"
	"checkout-service/internal/signature"

	"github.com/rs/zerolog"
)

const testSalt = "test-salt"

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu         sync.Mutex
	orders     map[string]*entity.Order
	insertErrs []error
	applied    int
}

func newMemStore() *memStore {
	return &memStore{orders: map[string]*entity.Order{}}
}

func clone(o *entity.Order) *entity.Order {
	c := *o
	c.CartItems = append([]entity.OrderItem(nil), o.CartItems...)
	return &c
}

func (m *memStore) Insert(_ context.Context, order *entity.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.insertErrs) > 0 {
		err := m.insertErrs[0]
		m.insertErrs = m.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := m.orders[order.MerchantTransactionID]; ok {
		return repository.ErrDuplicateTransaction
	}
	m.orders[order.MerchantTransactionID] = clone(order)
	return nil
}

func (m *memStore) FindByMerchantTransactionID(_ context.Context, mtid string) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[mtid]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return clone(o), nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.ID == id {
			return clone(o), nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memStore) ListByUser(_ context.Context, userID string) ([]*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entity.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderDate.After(out[j].OrderDate) })
	return out, nil
}

func (m *memStore) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entity.Order
	for _, o := range m.orders {
		if o.PaymentStatus == entity.PaymentPending && o.OrderDate.Before(cutoff) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderDate.Before(out[j].OrderDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, mtid string, upd entity.StatusUpdate) (*entity.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[mtid]
	if !ok {
		return nil, false, repository.ErrOrderNotFound
	}
	if o.PaymentStatus != entity.PaymentPending {
		return clone(o), false, nil
	}
	o.PaymentStatus = upd.PaymentStatus
	o.OrderStatus = entity.OrderStatusFor(upd.PaymentStatus)
	if upd.GatewayTransactionID != "" {
		o.GatewayTransactionID = upd.GatewayTransactionID
	}
	if upd.TransactionDetails != nil {
		o.TransactionDetails = upd.TransactionDetails
	}
	m.applied++
	return clone(o), true, nil
}

func (m *memStore) put(o *entity.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.MerchantTransactionID] = clone(o)
}

func (m *memStore) get(mtid string) *entity.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.orders[mtid])
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type fakeGateway struct {
	mu          sync.Mutex
	redirectURL string
	initiateErr error
	statuses    map[string]*gateway.StatusResult
	statusErr   error
	payRequests []gateway.PayRequest
	statusCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		redirectURL: "https://mercury.phonepe.com/transact/abc",
		statuses:    map[string]*gateway.StatusResult{},
	}
}

func (g *fakeGateway) InitiatePayment(_ context.Context, req gateway.PayRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payRequests = append(g.payRequests, req)
	if g.initiateErr != nil {
		return "", g.initiateErr
	}
	return g.redirectURL, nil
}

func (g *fakeGateway) CheckStatus(_ context.Context, mtid string) (*gateway.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	res, ok := g.statuses[mtid]
	if !ok {
		return &gateway.StatusResult{Code: gateway.CodePaymentPending}, nil
	}
	return res, nil
}

func (g *fakeGateway) setStatus(mtid, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[mtid] = &gateway.StatusResult{
		Success: code == gateway.CodePaymentSuccess,
		Code:    code,
		Data:    gateway.TransactionData{MerchantTransactionID: mtid, TransactionID: "PG-" + mtid},
	}
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev entity.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t entity.EventType) []entity.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []entity.OrderEvent
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type memCarts struct {
	mu    sync.Mutex
	carts map[string]*entity.Cart
}

func (c *memCarts) Get(_ context.Context, userID string) (*entity.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[userID]
	if !ok || len(cart.Items) == 0 {
		return nil, repository.ErrCartNotFound
	}
	return cart, nil
}

func (c *memCarts) Save(_ context.Context, cart *entity.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[cart.UserID] = cart
	return nil
}

func (c *memCarts) Clear(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, userID)
	return nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memIdempotency) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type fixture struct {
	svc    *OrderService
	store  *memStore
	gw     *fakeGateway
	events *recordingPublisher
	carts  *memCarts
	signer *signature.Verifier
}

func newFixture() *fixture {
	f := &fixture{
		store:  newMemStore(),
		gw:     newFakeGateway(),
		events: &recordingPublisher{},
		carts:  &memCarts{carts: map[string]*entity.Cart{}},
		signer: signature.NewVerifier(testSalt, 1),
	}
	f.svc = NewOrderService(Deps{
		Orders:      f.store,
		Carts:       f.carts,
		Idempotency: &memIdempotency{keys: map[string]bool{}},
		Gateway:     f.gw,
		Verifier:    f.signer,
		Events:      f.events,
	}, Options{
		FrontendURL:   "http://shop.test",
		BackendURL:    "http://api.test",
		PendingExpiry: 30 * time.Minute,
	}, zerolog.Nop())
	f.svc.now = func() time.Time { return testNow }
	return f
}

func pendingOrder(mtid string, at time.Time) *entity.Order {
	return &entity.Order{
		ID:                    "id-" + mtid,
		UserID:                "user-1",
		CartID:                entity.DirectCheckoutCartID,
		MerchantTransactionID: mtid,
		CartItems:             []entity.OrderItem{{ProductID: "p1", Title: "Kurta", Price: 750, Quantity: 2}},
		OrderStatus:           entity.OrderPending,
		PaymentStatus:         entity.PaymentPending,
		PaymentMethod:         entity.PaymentMethodPhonePe,
		TotalAmount:           1500,
		OrderDate:             at,
		LastUpdated:           at,
	}
}

func validRequest() CreateOrderRequest {
	return CreateOrderRequest{
		UserID: "user-1",
		CartItems: []entity.OrderItem{
			{ProductID: "p1", Title: "Kurta", Price: 750, Quantity: 2, Size: "M", Color: entity.Color{ColorName: "Indigo", ColorCode: "#3F51B5"}},
		},
		AddressInfo: entity.Address{Address: "12 MG Road", City: "Pune", Pincode: "411001", Phone: "9999999999"},
		TotalAmount: 1500,
	}
}
