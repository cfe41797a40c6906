package checkout

import (
	"context"
	"encoding/json"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/digistore1/digistore-backend/internal/catalog"
	"github.com/digistore1/digistore-backend/internal/coupons"
	"github.com/digistore1/digistore-backend/internal/customers"
	"github.com/digistore1/digistore-backend/internal/discounts"
	"github.com/digistore1/digistore-backend/internal/downloads"
	"github.com/digistore1/digistore-backend/internal/giftcards"
	"github.com/digistore1/digistore-backend/internal/incidents"
	"github.com/digistore1/digistore-backend/internal/ledger"
	"github.com/digistore1/digistore-backend/internal/orders"
	"github.com/digistore1/digistore-backend/internal/payments"
	"github.com/digistore1/digistore-backend/internal/referrals"
	"github.com/digistore1/digistore-backend/internal/vendors"
	"github.com/digistore1/digistore-backend/pkg/config"
	"github.com/digistore1/digistore-backend/pkg/db/models"
	"github.com/digistore1/digistore-backend/pkg/enums"
	pkgerrors "github.com/digistore1/digistore-backend/pkg/errors"
	"github.com/digistore1/digistore-backend/pkg/logger"
	"github.com/digistore1/digistore-backend/pkg/metrics"
	"github.com/digistore1/digistore-backend/pkg/outbox"
)

const (
	defaultQuoteTTL            = 30 * time.Minute
	defaultCaptureTimeout      = 15 * time.Second
	defaultNotificationTimeout = 10 * time.Second
	defaultMaxLineItems        = 50
	defaultMaxQuantity         = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type incidentRecorder interface {
	Open(ctx context.Context, input incidents.OpenInput) (*models.SettlementIncident, error)
}

// Buyer is the billing identity for a checkout.
type Buyer struct {
	UserID    *uuid.UUID
	Email     string
	FirstName string
	LastName  string
	Country   string
}

// QuoteInput is a cart as submitted by the client. ClientTotalCents is only
// compared against the server total for logging.
type QuoteInput struct {
	Buyer            Buyer
	Lines            []catalog.LineRequest
	ClientTotalCents *int64
	CouponCode       string
	GiftCardCode     string
	ReferralCode     string
	SourceID         string
	IdempotencyKey   string
}

// SessionView is the public state of a checkout session.
type SessionView struct {
	ID                  uuid.UUID                   `json:"id"`
	Status              enums.CheckoutSessionStatus `json:"status"`
	Lines               []catalog.PricedLine        `json:"lines"`
	SubtotalCents       int64                       `json:"subtotal_cents"`
	CouponCode          string                      `json:"coupon_code,omitempty"`
	CouponDiscountCents int64                       `json:"coupon_discount_cents"`
	GiftCardAmountCents int64                       `json:"gift_card_amount_cents"`
	DiscountCents       int64                       `json:"discount_cents"`
	TotalCents          int64                       `json:"total_cents"`
	Currency            string                      `json:"currency"`
	Provider            string                      `json:"provider"`
	IntentRef           string                      `json:"intent_ref,omitempty"`
	ClientSecret        string                      `json:"client_secret,omitempty"`
	ExpiresAt           time.Time                   `json:"expires_at"`
	OrderID             *uuid.UUID                  `json:"order_id,omitempty"`
	FailureReason       string                      `json:"failure_reason,omitempty"`
}

// CaptureResult pairs the settled session with its order.
type CaptureResult struct {
	Session *SessionView     `json:"session"`
	Order   *orders.OrderDTO `json:"order"`
}

// Service drives a cart through QUOTED, GATEWAY_PENDING, CAPTURED and SETTLED.
type Service interface {
	Quote(ctx context.Context, input QuoteInput) (*SessionView, error)
	Capture(ctx context.Context, sessionID uuid.UUID, viewer orders.Viewer) (*CaptureResult, error)
	Get(ctx context.Context, sessionID uuid.UUID, viewer orders.Viewer) (*SessionView, error)
	HandleEvent(ctx context.Context, event payments.Event) (bool, error)
	Reconcile(ctx context.Context, input ReconcileInput) (*ReconcileReport, error)
}

type ServiceParams struct {
	Tx        txRunner
	Sessions  Repository
	Catalog   catalog.Lookup
	Resolver  discounts.Resolver
	Coupons   coupons.Repository
	GiftCards giftcards.Repository
	Qualifier customers.Qualifier
	Vendors   vendors.Repository
	Orders    orders.Repository
	Referrals referrals.Service
	Downloads downloads.Service
	Ledger    ledger.Service
	Gateway   payments.Adapter
	Outbox    outboxPublisher
	Incidents incidentRecorder
	Config    config.CheckoutConfig
	Metrics   *metrics.SettlementMetrics
	Logger    *logger.Logger
}

type service struct {
	tx        txRunner
	sessions  Repository
	catalog   catalog.Lookup
	resolver  discounts.Resolver
	coupons   coupons.Repository
	giftCards giftcards.Repository
	qualifier customers.Qualifier
	vendors   vendors.Repository
	orders    orders.Repository
	referrals referrals.Service
	downloads downloads.Service
	ledger    ledger.Service
	gateway   payments.Adapter
	outbox    outboxPublisher
	incidents incidentRecorder
	cfg       config.CheckoutConfig
	metrics   *metrics.SettlementMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	cfg := params.Config
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = defaultQuoteTTL
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = defaultCaptureTimeout
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = defaultNotificationTimeout
	}
	if cfg.MaxLineItems <= 0 {
		cfg.MaxLineItems = defaultMaxLineItems
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = defaultMaxQuantity
	}
	return &service{
		tx:        params.Tx,
		sessions:  params.Sessions,
		catalog:   params.Catalog,
		resolver:  params.Resolver,
		coupons:   params.Coupons,
		giftCards: params.GiftCards,
		qualifier: params.Qualifier,
		vendors:   params.Vendors,
		orders:    params.Orders,
		referrals: params.Referrals,
		downloads: params.Downloads,
		ledger:    params.Ledger,
		gateway:   params.Gateway,
		outbox:    params.Outbox,
		incidents: params.Incidents,
		cfg:       cfg,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       time.Now,
	}, nil
}

func (p ServiceParams) validate() error {
	switch {
	case p.Tx == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	case p.Sessions == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "session repository required")
	case p.Catalog == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "catalog lookup required")
	case p.Resolver == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "discount resolver required")
	case p.Coupons == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "coupon repository required")
	case p.GiftCards == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "gift card repository required")
	case p.Qualifier == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "first-purchase qualifier required")
	case p.Vendors == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "vendor repository required")
	case p.Orders == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	case p.Referrals == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "referrals service required")
	case p.Downloads == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "downloads service required")
	case p.Ledger == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	case p.Gateway == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	case p.Outbox == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	case p.Incidents == nil:
		return pkgerrors.New(pkgerrors.CodeInternal, "incident recorder required")
	}
	return nil
}

// Quote re-prices the cart, plans discounts and opens a gateway intent for the
// server-computed total. A zero-priced cart skips the gateway and settles
// immediately.
func (s *service) Quote(ctx context.Context, input QuoteInput) (*SessionView, error) {
	buyer, err := s.validateQuote(input)
	if err != nil {
		return nil, err
	}
	identity := customers.Identity{UserID: buyer.UserID, Email: buyer.Email}

	priced, err := s.catalog.Price(ctx, input.Lines)
	if err != nil {
		s.rejectQuote(ctx, buyer, input, err)
		return nil, err
	}
	if err := s.requireVendorAccounts(ctx, priced); err != nil {
		s.rejectQuote(ctx, buyer, input, err)
		return nil, err
	}
	subtotal := catalog.Subtotal(priced)
	if input.ClientTotalCents != nil && *input.ClientTotalCents != subtotal {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"client_total_cents": *input.ClientTotalCents,
			"server_total_cents": subtotal,
		}), "client total differs from catalog subtotal")
	}

	plan, err := s.resolver.Plan(ctx, discounts.Input{
		SubtotalCents: subtotal,
		CouponCode:    input.CouponCode,
		GiftCardCode:  input.GiftCardCode,
		Identity:      identity,
	})
	if err != nil {
		s.countRejection(err)
		s.rejectQuote(ctx, buyer, input, err)
		return nil, err
	}

	free := subtotal == 0
	if !free && plan.TotalCents == 0 {
		instrument := discounts.InstrumentCoupon
		if plan.GiftCardAmountCents > 0 {
			instrument = discounts.InstrumentGiftCard
		}
		err := discounts.Rejection(instrument, "covers_full_total", "discounts cannot cover the entire order; a payment is required")
		s.countRejection(err)
		s.rejectQuote(ctx, buyer, input, err)
		return nil, err
	}

	lines, err := json.Marshal(priced)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode checkout lines")
	}
	provider := s.gateway.Name()
	if free {
		provider = string(enums.PaymentMethodFree)
	}
	session := &models.CheckoutSession{
		Status:              enums.CheckoutSessionStatusQuoted,
		UserID:              buyer.UserID,
		Email:               buyer.Email,
		FirstName:           buyer.FirstName,
		LastName:            buyer.LastName,
		Country:             buyer.Country,
		Lines:               lines,
		SubtotalCents:       plan.SubtotalCents,
		CouponID:            plan.CouponID,
		CouponCode:          optional(plan.CouponCode),
		CouponDiscountCents: plan.CouponDiscountCents,
		GiftCardID:          plan.GiftCardID,
		GiftCardCode:        optional(plan.GiftCardCode),
		GiftCardAmountCents: plan.GiftCardAmountCents,
		TotalCents:          plan.TotalCents,
		Currency:            s.cfg.Currency,
		Provider:            provider,
		ReferralCode:        optional(input.ReferralCode),
		ExpiresAt:           s.now().UTC().Add(s.cfg.QuoteTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	ctx = s.logg.WithSessionID(ctx, session.ID.String())

	if free {
		result, err := s.settle(ctx, session)
		if err != nil {
			return nil, err
		}
		s.metrics.IncOutcome("quote", "free")
		return result.Session, nil
	}

	idempotencyKey := "checkout-" + session.ID.String()
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		idempotencyKey = "checkout-" + key
	}
	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		AmountCents:    session.TotalCents,
		Currency:       session.Currency,
		Description:    "Order " + session.ID.String(),
		Email:          session.Email,
		Reference:      session.ID.String(),
		IdempotencyKey: idempotencyKey,
		SourceID:       input.SourceID,
		Lines:          gatewayLines(priced),
	})
	if err != nil {
		if _, tErr := s.sessions.Transition(ctx, session.ID, []enums.CheckoutSessionStatus{enums.CheckoutSessionStatusQuoted}, enums.CheckoutSessionStatusRejected, map[string]any{"failure_reason": "intent_failed"}); tErr != nil {
			s.logg.Error(ctx, "reject session after intent failure", tErr)
		}
		s.metrics.IncOutcome("quote", "intent_failed")
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
		}
		return nil, err
	}

	moved, err := s.sessions.Transition(ctx, session.ID,
		[]enums.CheckoutSessionStatus{enums.CheckoutSessionStatusQuoted},
		enums.CheckoutSessionStatusGatewayPending,
		map[string]any{"intent_ref": intent.Ref},
	)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment intent")
	}
	if !moved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout session changed while opening the payment")
	}
	session.Status = enums.CheckoutSessionStatusGatewayPending
	session.IntentRef = &intent.Ref

	s.metrics.IncOutcome("quote", "gateway_pending")
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"intent_ref":  intent.Ref,
		"total_cents": session.TotalCents,
	}), "checkout quoted")

	view := toView(session)
	view.ClientSecret = intent.ClientSecret
	return view, nil
}

func (s *service) Get(ctx context.Context, sessionID uuid.UUID, viewer orders.Viewer) (*SessionView, error) {
	session, err := s.load(ctx, sessionID, viewer)
	if err != nil {
		return nil, err
	}
	return toView(session), nil
}

func (s *service) validateQuote(input QuoteInput) (Buyer, error) {
	buyer := input.Buyer
	buyer.Email = strings.ToLower(strings.TrimSpace(buyer.Email))
	buyer.FirstName = strings.TrimSpace(buyer.FirstName)
	buyer.LastName = strings.TrimSpace(buyer.LastName)
	buyer.Country = strings.ToUpper(strings.TrimSpace(buyer.Country))
	if buyer.UserID != nil && *buyer.UserID == uuid.Nil {
		buyer.UserID = nil
	}

	if _, err := mail.ParseAddress(buyer.Email); err != nil {
		return buyer, pkgerrors.New(pkgerrors.CodeValidation, "billing email is invalid")
	}
	if len(input.Lines) == 0 {
		return buyer, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if len(input.Lines) > s.cfg.MaxLineItems {
		return buyer, pkgerrors.New(pkgerrors.CodeValidation, "too many line items").
			WithDetails(map[string]any{"max_line_items": s.cfg.MaxLineItems})
	}
	for _, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return buyer, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if line.Quantity <= 0 || line.Quantity > s.cfg.MaxQuantity {
			return buyer, pkgerrors.New(pkgerrors.CodeValidation, "quantity out of range").
				WithDetails(map[string]any{"product_id": line.ProductID.String(), "max_quantity": s.cfg.MaxQuantity})
		}
	}
	return buyer, nil
}

func (s *service) requireVendorAccounts(ctx context.Context, lines []catalog.PricedLine) error {
	ids := make([]uuid.UUID, 0, len(lines))
	seen := map[uuid.UUID]struct{}{}
	for _, line := range lines {
		if _, ok := seen[line.VendorID]; ok {
			continue
		}
		seen[line.VendorID] = struct{}{}
		ids = append(ids, line.VendorID)
	}
	missing, err := s.vendors.MissingAccounts(ctx, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor accounts")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "some products are unavailable").
			WithDetails(map[string]any{"reason": "vendor_account_missing"})
	}
	return nil
}

// rejectQuote keeps a REJECTED session row for carts that never reached the gateway.
func (s *service) rejectQuote(ctx context.Context, buyer Buyer, input QuoteInput, cause error) {
	reason := "validation_rejected"
	if _, why, ok := discounts.RejectionReason(cause); ok {
		reason = why
	}
	session := &models.CheckoutSession{
		Status:        enums.CheckoutSessionStatusRejected,
		UserID:        buyer.UserID,
		Email:         buyer.Email,
		FirstName:     buyer.FirstName,
		LastName:      buyer.LastName,
		Country:       buyer.Country,
		Lines:         json.RawMessage("[]"),
		Currency:      s.cfg.Currency,
		Provider:      s.gateway.Name(),
		ReferralCode:  optional(input.ReferralCode),
		FailureReason: &reason,
		ExpiresAt:     s.now().UTC(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		s.logg.Error(ctx, "record rejected quote", err)
	}
	s.metrics.IncOutcome("quote", "rejected")
}

func (s *service) countRejection(err error) {
	if instrument, reason, ok := discounts.RejectionReason(err); ok {
		s.metrics.IncRejection(instrument, reason)
	}
}

// load fetches a session the viewer may see. Guest sessions are addressed by
// their id alone; account sessions need the owner or an admin.
func (s *service) load(ctx context.Context, sessionID uuid.UUID, viewer orders.Viewer) (*models.CheckoutSession, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id is required")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	}
	if viewer.IsAdmin || session.UserID == nil {
		return session, nil
	}
	if viewer.UserID == nil || *viewer.UserID != *session.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	}
	return session, nil
}

func toView(session *models.CheckoutSession) *SessionView {
	view := &SessionView{
		ID:                  session.ID,
		Status:              session.Status,
		SubtotalCents:       session.SubtotalCents,
		CouponCode:          deref(session.CouponCode),
		CouponDiscountCents: session.CouponDiscountCents,
		GiftCardAmountCents: session.GiftCardAmountCents,
		DiscountCents:       session.CouponDiscountCents + session.GiftCardAmountCents,
		TotalCents:          session.TotalCents,
		Currency:            session.Currency,
		Provider:            session.Provider,
		IntentRef:           deref(session.IntentRef),
		ExpiresAt:           session.ExpiresAt,
		OrderID:             session.OrderID,
		FailureReason:       deref(session.FailureReason),
	}
	if lines, err := decodeLines(session.Lines); err == nil {
		view.Lines = lines
	}
	return view
}

func decodeLines(raw json.RawMessage) ([]catalog.PricedLine, error) {
	var lines []catalog.PricedLine
	if len(raw) == 0 {
		return lines, nil
	}
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func gatewayLines(lines []catalog.PricedLine) []payments.Line {
	out := make([]payments.Line, 0, len(lines))
	for _, line := range lines {
		out = append(out, payments.Line{Title: line.Title, Quantity: line.Quantity, AmountCents: line.LineTotalCents})
	}
	return out
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
