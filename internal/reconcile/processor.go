package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"polarsync/internal/types"
)

// PaymentStore is the subset of the payment repository the processor needs.
type PaymentStore interface {
	Create(ctx context.Context, p *types.Payment) error
	Update(ctx context.Context, p *types.Payment) error
	GetByCheckoutID(ctx context.Context, checkoutID string) (*types.Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (*types.Payment, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.Payment, error)
}

// EventJournal records every verified delivery for duplicate detection and
// audit. Record returns the stored outcome: the given one on a fresh insert,
// or the prior delivery's outcome alongside ErrCodeConflictEventProcessed on
// a duplicate.
type EventJournal interface {
	Record(ctx context.Context, eventID, eventType string, outcome types.EventOutcome, payload []byte) (types.EventOutcome, error)
	UpdateOutcome(ctx context.Context, eventID string, outcome types.EventOutcome) error
}

// Processor folds one verified webhook delivery into the payment ledger and
// the user projection, then fires side effects. Each delivery is one
// sequential unit of work; idempotency comes from the journal's dedupe on
// the provider event id and from the ledger's conditional transitions, not
// from locking.
type Processor struct {
	payments   PaymentStore
	journal    EventJournal
	projector  *Projector
	dispatcher *Dispatcher
	metrics    MetricsEmitter
	logger     *slog.Logger
}

// NewProcessor creates a Processor. The journal and metrics emitter may be
// nil; deduplication then relies solely on the ledger's conditional
// transitions.
func NewProcessor(
	payments PaymentStore,
	journal EventJournal,
	projector *Projector,
	dispatcher *Dispatcher,
	metrics MetricsEmitter,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		payments:   payments,
		journal:    journal,
		projector:  projector,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// Process handles one verified webhook delivery. eventID is the provider's
// delivery identifier; payload is the exact verified body. Soft failures
// (unknown identifiers, missing referents, collaborator errors) are logged
// and absorbed; only unexpected store failures return an error.
func (p *Processor) Process(ctx context.Context, eventID string, payload []byte) error {
	event, err := ParseEvent(payload)
	if err != nil {
		return err
	}

	// A redelivery whose prior attempt soft-failed carries unfinished work,
	// so it runs again; any other duplicate is acknowledged as a no-op.
	recovering := false
	if p.journal != nil {
		prior, err := p.journal.Record(ctx, eventID, event.Type, types.OutcomeProcessed, payload)
		if err != nil {
			var appErr *types.AppError
			if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeConflictEventProcessed {
				return err
			}
			if prior != types.OutcomeSoftFailed {
				p.logger.InfoContext(ctx, "duplicate webhook delivery, acknowledging without reprocessing",
					"event_id", eventID,
					"event_type", event.Type,
				)
				p.emit(ctx, event.Type, types.OutcomeDuplicate)
				return nil
			}
			recovering = true
			p.logger.InfoContext(ctx, "redelivery of soft-failed event, reprocessing",
				"event_id", eventID,
				"event_type", event.Type,
			)
		}
	}

	p.logger.InfoContext(ctx, "processing webhook event",
		"event_id", eventID,
		"event_type", event.Type,
	)

	outcome, err := p.route(ctx, event)
	if err != nil {
		p.patchOutcome(ctx, eventID, types.OutcomeSoftFailed)
		p.emit(ctx, event.Type, types.OutcomeSoftFailed)
		return err
	}

	if outcome != types.OutcomeProcessed || recovering {
		p.patchOutcome(ctx, eventID, outcome)
	}
	p.emit(ctx, event.Type, outcome)
	return nil
}

// route dispatches the typed event to its handler.
func (p *Processor) route(ctx context.Context, event *Event) (types.EventOutcome, error) {
	now := time.Now().UTC()

	switch event.Type {
	case EventCheckoutCreated:
		return p.handleCheckoutCreated(ctx, event, now)
	case EventCheckoutUpdated:
		return p.handleCheckoutUpdated(ctx, event, now)
	case EventOrderCreated:
		return p.handleOrderCreated(ctx, event, now)
	case EventOrderPaid:
		return p.handleOrderPaid(ctx, event, now)
	case EventOrderUpdated:
		return p.handleOrderUpdated(ctx, event, now)
	case EventOrderRefunded:
		return p.handleOrderRefunded(ctx, event, now)
	case EventRefundCreated:
		return p.handleRefundCreated(ctx, event, now)
	case EventSubCreated:
		return p.handleSubscriptionCreated(ctx, event, now)
	case EventSubUpdated:
		return p.handleSubscriptionUpdated(ctx, event, now)
	case EventSubCanceled:
		return p.handleSubscriptionCanceled(ctx, event, now)
	case EventCustomerCreated, EventCustomerUpdated, EventCustomerState:
		return p.handleCustomer(ctx, event)
	default:
		p.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return types.OutcomeSkipped, nil
	}
}

// handleCheckoutCreated creates a pending payment for a fresh checkout and
// lazily creates the user. A second checkout always produces a second
// payment row; redelivery of the same checkout id leaves the row untouched
// but still re-links the user, so a delivery that failed after the insert
// recovers its projection on retry.
func (p *Processor) handleCheckoutCreated(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	c := event.Checkout

	payment := NewPaymentFromCheckout(uuid.NewString(), c, now)
	if err := p.payments.Create(ctx, &payment); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictCheckoutID {
			p.logger.InfoContext(ctx, "checkout already recorded",
				"checkout_id", c.ID,
			)
			existing, err := p.getExisting(ctx, c.ID, p.payments.GetByCheckoutID)
			if err != nil {
				return types.OutcomeSoftFailed, err
			}
			if existing == nil {
				return types.OutcomeSkipped, nil
			}
			if _, err := p.attach(ctx, event, existing); err != nil {
				return types.OutcomeSoftFailed, err
			}
			return types.OutcomeSkipped, nil
		}
		return types.OutcomeSoftFailed, err
	}

	if _, err := p.attach(ctx, event, &payment); err != nil {
		return types.OutcomeSoftFailed, err
	}
	return types.OutcomeProcessed, nil
}

// handleCheckoutUpdated folds a checkout status change into the existing
// payment. A confirmed checkout completes the payment and grants the
// product's tier.
func (p *Processor) handleCheckoutUpdated(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	c := event.Checkout

	current, outcome, err := p.lookup(ctx, "checkout_id", c.ID, p.payments.GetByCheckoutID)
	if current == nil {
		return outcome, err
	}

	next := ApplyCheckoutUpdate(*current, c, now)
	if err := p.payments.Update(ctx, &next); err != nil {
		return types.OutcomeSoftFailed, err
	}

	user, err := p.attach(ctx, event, &next)
	if err != nil {
		return types.OutcomeSoftFailed, err
	}
	if user != nil && current.Status != types.PaymentCompleted && next.Status == types.PaymentCompleted {
		if err := p.projector.Grant(ctx, user, next.ProductID, "", nil); err != nil {
			return types.OutcomeSoftFailed, err
		}
	}
	return types.OutcomeProcessed, nil
}

// handleOrderCreated completes the payment for the order's checkout, or
// creates a completed payment directly when the order arrives before its
// checkout event. The order id is linked for later refund and invoice
// lookups and invoice generation is requested.
func (p *Processor) handleOrderCreated(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	o := event.Order

	var current *types.Payment
	var err error
	if o.CheckoutID != "" {
		current, err = p.getExisting(ctx, o.CheckoutID, p.payments.GetByCheckoutID)
	} else {
		current, err = p.getExisting(ctx, o.ID, p.payments.GetByOrderID)
	}
	if err != nil {
		return types.OutcomeSoftFailed, err
	}

	var next types.Payment
	if current != nil {
		next = ApplyOrderCreated(*current, o, now)
		err = p.payments.Update(ctx, &next)
	} else {
		next = NewPaymentFromOrder(uuid.NewString(), o, now)
		err = p.payments.Create(ctx, &next)
	}
	if err != nil {
		return types.OutcomeSoftFailed, err
	}

	user, err := p.attach(ctx, event, &next)
	if err != nil {
		return types.OutcomeSoftFailed, err
	}
	if user != nil {
		if err := p.projector.Grant(ctx, user, next.ProductID, o.SubscriptionID, nil); err != nil {
			return types.OutcomeSoftFailed, err
		}
	}

	return p.requestInvoice(ctx, &next)
}

// handleOrderPaid marks the order's payment completed. An order id with no
// matching payment is logged and skipped, not an error.
func (p *Processor) handleOrderPaid(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	o := event.Order

	current, outcome, err := p.lookup(ctx, "order_id", o.ID, p.payments.GetByOrderID)
	if current == nil {
		return outcome, err
	}

	next := ApplyOrderPaid(*current, o, now)
	if err := p.payments.Update(ctx, &next); err != nil {
		return types.OutcomeSoftFailed, err
	}

	user, err := p.attach(ctx, event, &next)
	if err != nil {
		return types.OutcomeSoftFailed, err
	}
	if user != nil {
		if err := p.projector.Grant(ctx, user, next.ProductID, o.SubscriptionID, nil); err != nil {
			return types.OutcomeSoftFailed, err
		}
	}

	return p.requestInvoice(ctx, &next)
}

// handleOrderUpdated annotates the payment with the order's state. When the
// update reports the invoice generated, the customer is notified with the
// retrievable invoice URL.
func (p *Processor) handleOrderUpdated(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	o := event.Order

	current, outcome, err := p.lookup(ctx, "order_id", o.ID, p.payments.GetByOrderID)
	if current == nil {
		return outcome, err
	}

	next := ApplyOrderUpdate(*current, o, now)
	if err := p.payments.Update(ctx, &next); err != nil {
		return types.OutcomeSoftFailed, err
	}

	if o.IsInvoiceGenerated {
		email := next.CustomerEmail
		if identity, ok := ResolveIdentity(event, &next); ok {
			email = identity.Email
		}
		p.dispatcher.NotifyInvoiceReady(ctx, &next, email)
	}
	return types.OutcomeProcessed, nil
}

// handleOrderRefunded moves the payment to refunded and revokes the user's
// benefits. The original sale amount stays on the payment; refund details
// land in the metadata bag.
func (p *Processor) handleOrderRefunded(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	o := event.Order

	current, outcome, err := p.lookup(ctx, "order_id", o.ID, p.payments.GetByOrderID)
	if current == nil {
		return outcome, err
	}

	next := ApplyRefund(*current, EventOrderRefunded, nil, now)
	if err := p.payments.Update(ctx, &next); err != nil {
		return types.OutcomeSoftFailed, err
	}

	return p.revoke(ctx, event, &next)
}

// handleRefundCreated records the refund on the order's payment and, when
// the refund revokes benefits, forces the user back to the free tier.
func (p *Processor) handleRefundCreated(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	r := event.Refund

	current, outcome, err := p.lookup(ctx, "order_id", r.OrderID, p.payments.GetByOrderID)
	if current == nil {
		return outcome, err
	}

	next := ApplyRefund(*current, EventRefundCreated, r, now)
	if err := p.payments.Update(ctx, &next); err != nil {
		return types.OutcomeSoftFailed, err
	}

	if !r.RevokeBenefits {
		return types.OutcomeProcessed, nil
	}
	return p.revoke(ctx, event, &next)
}

// handleSubscriptionCreated records a completed payment for the new
// subscription and grants the product's tier with the subscription linkage.
func (p *Processor) handleSubscriptionCreated(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	s := event.Subscription

	existing, err := p.getExisting(ctx, s.ID, p.payments.GetBySubscriptionID)
	if err != nil {
		return types.OutcomeSoftFailed, err
	}

	var payment types.Payment
	if existing != nil {
		payment = ApplySubscriptionUpdate(*existing, s, EventSubCreated, now)
		err = p.payments.Update(ctx, &payment)
	} else {
		payment = NewPaymentFromSubscription(uuid.NewString(), s, now)
		err = p.payments.Create(ctx, &payment)
	}
	if err != nil {
		return types.OutcomeSoftFailed, err
	}

	user, err := p.attach(ctx, event, &payment)
	if err != nil {
		return types.OutcomeSoftFailed, err
	}
	if user != nil {
		if err := p.projector.Grant(ctx, user, payment.ProductID, s.ID, s.CurrentPeriodEnd); err != nil {
			return types.OutcomeSoftFailed, err
		}
	}
	return types.OutcomeProcessed, nil
}

// handleSubscriptionUpdated annotates the subscription's payment and keeps
// the user's period end current. The payment status never changes here.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	s := event.Subscription

	current, outcome, err := p.lookup(ctx, "subscription_id", s.ID, p.payments.GetBySubscriptionID)
	if current == nil {
		return outcome, err
	}

	next := ApplySubscriptionUpdate(*current, s, EventSubUpdated, now)
	if err := p.payments.Update(ctx, &next); err != nil {
		return types.OutcomeSoftFailed, err
	}

	user, err := p.attach(ctx, event, &next)
	if err != nil {
		return types.OutcomeSoftFailed, err
	}
	if user != nil && user.SubscriptionID == s.ID && s.CurrentPeriodEnd != nil {
		user.SubscriptionEndsAt = s.CurrentPeriodEnd
		if err := p.projector.users.Update(ctx, user); err != nil {
			return types.OutcomeSoftFailed, err
		}
	}
	return types.OutcomeProcessed, nil
}

// handleSubscriptionCanceled annotates the payment and unconditionally
// revokes the user's tier. The payment keeps its status; the tier change is
// the authoritative effect of cancellation.
func (p *Processor) handleSubscriptionCanceled(ctx context.Context, event *Event, now time.Time) (types.EventOutcome, error) {
	s := event.Subscription

	current, err := p.getExisting(ctx, s.ID, p.payments.GetBySubscriptionID)
	if err != nil {
		return types.OutcomeSoftFailed, err
	}
	if current != nil {
		next := ApplySubscriptionUpdate(*current, s, EventSubCanceled, now)
		if err := p.payments.Update(ctx, &next); err != nil {
			return types.OutcomeSoftFailed, err
		}
		current = &next
	}

	return p.revoke(ctx, event, current)
}

// handleCustomer lazily creates or updates the user for a customer event.
// Customer events carry no payment, so only identity linkage applies.
func (p *Processor) handleCustomer(ctx context.Context, event *Event) (types.EventOutcome, error) {
	identity, ok := ResolveIdentity(event, nil)
	if !ok {
		p.logger.WarnContext(ctx, "customer event carries no resolvable identity",
			"event_type", event.Type,
		)
		return types.OutcomeSkipped, nil
	}
	if _, err := p.projector.Attach(ctx, identity, nil); err != nil {
		return types.OutcomeSoftFailed, err
	}
	return types.OutcomeProcessed, nil
}

// --- shared steps ---

// attach resolves the event's identity and attaches the payment to the
// user. A resolution miss is logged and absorbed: the payment-side update
// already happened and must stand on its own.
func (p *Processor) attach(ctx context.Context, event *Event, payment *types.Payment) (*types.User, error) {
	identity, ok := ResolveIdentity(event, payment)
	if !ok {
		p.logger.WarnContext(ctx, "no resolvable user identity, recording payment without user",
			"event_type", event.Type,
			"payment_id", payment.ID,
		)
		return nil, nil
	}
	return p.projector.Attach(ctx, identity, payment)
}

// revoke resolves the user for the event and forces the free tier.
// Failure to resolve is absorbed.
func (p *Processor) revoke(ctx context.Context, event *Event, payment *types.Payment) (types.EventOutcome, error) {
	identity, ok := ResolveIdentity(event, payment)
	if !ok {
		p.logger.WarnContext(ctx, "no resolvable user identity for benefit revocation",
			"event_type", event.Type,
		)
		return types.OutcomeSkipped, nil
	}
	user, err := p.projector.Attach(ctx, identity, payment)
	if err != nil {
		return types.OutcomeSoftFailed, err
	}
	if err := p.projector.Revoke(ctx, user); err != nil {
		return types.OutcomeSoftFailed, err
	}
	return types.OutcomeProcessed, nil
}

// requestInvoice fires invoice generation and persists the requested flag
// so redelivery skips the call. Collaborator failures are absorbed by the
// dispatcher; the event still counts as processed.
func (p *Processor) requestInvoice(ctx context.Context, payment *types.Payment) (types.EventOutcome, error) {
	if !p.dispatcher.EnsureInvoice(ctx, payment) {
		return types.OutcomeProcessed, nil
	}
	next := clonePayment(*payment)
	next.Metadata[types.MetaInvoiceRequested] = true
	if err := p.payments.Update(ctx, &next); err != nil {
		return types.OutcomeSoftFailed, err
	}
	return types.OutcomeProcessed, nil
}

// lookup fetches the payment an event refers to. A miss is logged and
// skipped; only store failures propagate.
func (p *Processor) lookup(ctx context.Context, refName, refValue string, get func(context.Context, string) (*types.Payment, error)) (*types.Payment, types.EventOutcome, error) {
	if refValue == "" {
		p.logger.WarnContext(ctx, "event carries no referent identifier", "ref", refName)
		return nil, types.OutcomeSkipped, nil
	}
	payment, err := p.getExisting(ctx, refValue, get)
	if err != nil {
		return nil, types.OutcomeSoftFailed, err
	}
	if payment == nil {
		p.logger.WarnContext(ctx, "no payment found for event referent, skipping",
			refName, refValue,
		)
		return nil, types.OutcomeSkipped, nil
	}
	return payment, types.OutcomeProcessed, nil
}

// getExisting fetches a payment, mapping not-found to a nil payment.
func (p *Processor) getExisting(ctx context.Context, id string, get func(context.Context, string) (*types.Payment, error)) (*types.Payment, error) {
	payment, err := get(ctx, id)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundPayment {
			return nil, nil
		}
		return nil, err
	}
	return payment, nil
}

func (p *Processor) patchOutcome(ctx context.Context, eventID string, outcome types.EventOutcome) {
	if p.journal == nil {
		return
	}
	if err := p.journal.UpdateOutcome(ctx, eventID, outcome); err != nil {
		p.logger.WarnContext(ctx, "failed to update event journal outcome",
			"event_id", eventID,
			"error", err,
		)
	}
}

func (p *Processor) emit(ctx context.Context, eventType string, outcome types.EventOutcome) {
	if p.metrics != nil {
		p.metrics.EventProcessed(ctx, eventType, outcome)
	}
}
