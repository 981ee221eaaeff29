// internal/circulation/coordinator.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libris/internal/catalog"
	"libris/internal/inventory"
	"libris/internal/membership"
	"libris/internal/notify"
)

// DefaultAckWait bounds the wait for a notification acknowledgement.
const DefaultAckWait = 10 * time.Second

// Coordinator orchestrates checkout and hold requests: it validates the
// participants, applies the copies invariant through the inventory
// ledger, persists the circulation record, and mirrors the mutation onto
// the notification channel before reporting the outcome.
type Coordinator struct {
	catalog Catalog
	members Members
	store   RecordStore
	ledger  *inventory.Ledger
	bridge  *notify.Bridge
	ackWait time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	tracer  trace.Tracer
}

func NewCoordinator(cat Catalog, members Members, store RecordStore, ledger *inventory.Ledger, bridge *notify.Bridge, ackWait time.Duration, logger zerolog.Logger) *Coordinator {
	if ackWait <= 0 {
		ackWait = DefaultAckWait
	}
	return &Coordinator{
		catalog: cat,
		members: members,
		store:   store,
		ledger:  ledger,
		bridge:  bridge,
		ackWait: ackWait,
		now:     time.Now,
		logger:  logger,
		tracer:  otel.Tracer("libris/circulation"),
	}
}

// Checkout issues a rental of one copy to the member.
func (c *Coordinator) Checkout(ctx context.Context, memberName, bookTitle string) Outcome {
	return c.place(ctx, KindRental, memberName, bookTitle)
}

// Hold places a reservation of one copy for the member.
func (c *Coordinator) Hold(ctx context.Context, memberName, bookTitle string) Outcome {
	return c.place(ctx, KindHold, memberName, bookTitle)
}

// place runs the request state machine: Validating, InventoryCheck,
// RecordCreation, Notifying.
func (c *Coordinator) place(ctx context.Context, kind Kind, memberName, bookTitle string) Outcome {
	ctx, span := c.tracer.Start(ctx, "circulation.place",
		trace.WithAttributes(
			attribute.String("record.kind", string(kind)),
			attribute.String("member", memberName),
			attribute.String("book", bookTitle),
		),
	)
	defer span.End()

	// Validating. The participant is resolved first, so a missing
	// participant wins over a missing item when both are absent.
	member, err := c.members.GetMember(ctx, memberName)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			return c.reject(span, kind, memberName, bookTitle, ReasonParticipantNotFound, MsgParticipantNotFound)
		}
		return c.fail(span, err, "resolve member")
	}

	book, err := c.catalog.GetBook(ctx, bookTitle)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return c.reject(span, kind, member.Name, bookTitle, ReasonItemNotFound, MsgItemNotFound)
		}
		return c.fail(span, err, "resolve book")
	}

	// InventoryCheck. The ledger is the single atomic gate on the copy
	// counters; the decremented counter is committed to the catalog under
	// the same per-item lock, and a commit failure rolls the decrement
	// back. Sync folds any catalog edit since the last request into the
	// ledger first. A rejection here creates no record and publishes
	// nothing.
	c.ledger.Sync(book.Title, book.TotalCopies, book.AvailableCopies)
	reserved, err := c.ledger.TryReserve(book.Title, func(total, available int) error {
		return c.catalog.UpdateCopies(ctx, book.Title, total, available)
	})
	if err != nil {
		return c.fail(span, err, "reserve copy")
	}
	if !reserved {
		return c.reject(span, kind, member.Name, book.Title, ReasonNoCopiesAvailable, MsgNoCopiesAvailable)
	}

	// RecordCreation. A persistence failure past the successful reserve
	// must release the reserved copy before reporting failure.
	record := c.buildRecord(kind, member.Name, book.Title)
	if err := c.store.Save(ctx, record); err != nil {
		c.release(ctx, book.Title)
		return c.fail(span, err, "persist record")
	}

	// Notifying. The wait is a best-effort staging barrier: a timeout or
	// cancellation does not fail the already-durable operation.
	c.notifyPlaced(ctx, record)

	span.SetAttributes(attribute.String("record.id", record.ID.String()))
	message := MsgRentalIssued
	if kind == KindHold {
		message = MsgHoldPlaced
	}
	receipt := FormatReceipt(kind, member.Name, book.Title, true, message, c.now())
	return completed(record, receipt)
}

func (c *Coordinator) buildRecord(kind Kind, memberName, bookTitle string) *Record {
	now := c.now()
	record := &Record{
		ID:        uuid.New(),
		Kind:      kind,
		Member:    memberName,
		Book:      bookTitle,
		CreatedAt: now,
	}
	switch kind {
	case KindRental:
		record.DueDate = now.Add(RentalPeriod)
	case KindHold:
		record.ExpiresAt = now.Add(HoldPeriod)
		record.Active = true
	}
	return record
}

func (c *Coordinator) notifyPlaced(ctx context.Context, record *Record) {
	routingKey := notify.RentalKey
	text := fmt.Sprintf("Rental issued: %s -> %q (%s)", record.Member, record.Book, record.ID)
	if record.Kind == KindHold {
		routingKey = notify.ReservationKey
		text = fmt.Sprintf("Reservation placed: %s -> %q (%s)", record.Member, record.Book, record.ID)
	}

	pending, err := c.bridge.Publish(ctx, routingKey, text)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("record_id", record.ID.String()).
			Msg("notification publish failed; operation already committed")
		return
	}

	result := c.bridge.AwaitAck(ctx, pending, c.ackWait)
	if result != notify.Acked {
		c.logger.Warn().
			Str("record_id", record.ID.String()).
			Stringer("ack_result", result).
			Msg("proceeding without notification acknowledgement")
	}
}

// release is the compensating action for a failed persistence step: the
// reserved copy goes back to the pool and the restored counter is
// committed to the catalog.
func (c *Coordinator) release(ctx context.Context, bookTitle string) {
	err := c.ledger.Release(bookTitle, func(total, available int) error {
		return c.catalog.UpdateCopies(ctx, bookTitle, total, available)
	})
	if err != nil {
		c.logger.Error().Err(err).Str("book", bookTitle).Msg("compensating release failed")
	}
}

func (c *Coordinator) reject(span trace.Span, kind Kind, member, book string, reason RejectReason, message string) Outcome {
	span.SetAttributes(attribute.String("reject.reason", string(reason)))
	receipt := FormatReceipt(kind, member, book, false, message, c.now())
	return rejected(reason, receipt)
}

func (c *Coordinator) fail(span trace.Span, err error, step string) Outcome {
	span.RecordError(err)
	c.logger.Error().Err(err).Str("step", step).Msg("circulation request failed")
	return failed(ReasonInternalError)
}

// Return marks a rental as returned and releases the copy.
func (c *Coordinator) Return(ctx context.Context, recordID uuid.UUID) (*Record, error) {
	record, err := c.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Kind != KindRental {
		return nil, fmt.Errorf("record %s is not a rental", recordID)
	}
	if record.Returned {
		return record, nil
	}

	now := c.now()
	record.Returned = true
	record.ReturnDate = &now
	if err := c.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}

	if err := c.releaseForClose(ctx, record.Book); err != nil {
		return nil, err
	}

	c.notifyClosed(ctx, record, fmt.Sprintf("Rental returned: %s -> %q (%s)", record.Member, record.Book, record.ID))
	return record, nil
}

// CancelHold deactivates a hold and releases the copy.
func (c *Coordinator) CancelHold(ctx context.Context, recordID uuid.UUID) (*Record, error) {
	record, err := c.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Kind != KindHold {
		return nil, fmt.Errorf("record %s is not a hold", recordID)
	}
	if !record.Active {
		return record, nil
	}

	record.Active = false
	if err := c.store.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}

	if err := c.releaseForClose(ctx, record.Book); err != nil {
		return nil, err
	}

	c.notifyClosed(ctx, record, fmt.Sprintf("Reservation cancelled: %s -> %q (%s)", record.Member, record.Book, record.ID))
	return record, nil
}

// releaseForClose returns a copy to the pool when a record reaches its
// terminal state, seeding the ledger from the catalog if this process has
// not seen the book yet.
func (c *Coordinator) releaseForClose(ctx context.Context, bookTitle string) error {
	book, err := c.catalog.GetBook(ctx, bookTitle)
	if err != nil {
		return fmt.Errorf("resolve book: %w", err)
	}
	c.ledger.Sync(book.Title, book.TotalCopies, book.AvailableCopies)

	err = c.ledger.Release(book.Title, func(total, available int) error {
		return c.catalog.UpdateCopies(ctx, book.Title, total, available)
	})
	if err != nil {
		return fmt.Errorf("release copy: %w", err)
	}
	return nil
}

func (c *Coordinator) notifyClosed(ctx context.Context, record *Record, text string) {
	routingKey := notify.RentalKey
	if record.Kind == KindHold {
		routingKey = notify.ReservationKey
	}
	pending, err := c.bridge.Publish(ctx, routingKey, text)
	if err != nil {
		c.logger.Warn().Err(err).Str("record_id", record.ID.String()).Msg("notification publish failed")
		return
	}
	c.bridge.AwaitAck(ctx, pending, c.ackWait)
}

// GetRecord retrieves one circulation record.
func (c *Coordinator) GetRecord(ctx context.Context, recordID uuid.UUID) (*Record, error) {
	return c.store.Get(ctx, recordID)
}

// ListRecords returns all circulation records.
func (c *Coordinator) ListRecords(ctx context.Context) ([]*Record, error) {
	return c.store.List(ctx)
}
