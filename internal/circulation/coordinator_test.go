package circulation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/catalog"
	"libris/internal/inventory"
	"libris/internal/membership"
	"libris/internal/notify"
)

type fakeCatalog struct {
	mu        sync.Mutex
	books     map[string]*catalog.Book
	updateErr error
}

func (f *fakeCatalog) GetBook(_ context.Context, title string) (*catalog.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[title]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	copied := *book
	return &copied, nil
}

func (f *fakeCatalog) UpdateCopies(_ context.Context, title string, newTotal, newAvailable int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	book, ok := f.books[title]
	if !ok {
		return catalog.ErrNotFound
	}
	book.TotalCopies = newTotal
	book.AvailableCopies = newAvailable
	return nil
}

func (f *fakeCatalog) available(title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.books[title].AvailableCopies
}

func (f *fakeCatalog) edit(title string, newTotal, newAvailable int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book := f.books[title]
	book.TotalCopies = newTotal
	book.AvailableCopies = newAvailable
}

func (f *fakeCatalog) counts(title string) (total, available int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book := f.books[title]
	return book.TotalCopies, book.AvailableCopies
}

type fakeMembers struct {
	members map[string]*membership.Member
}

func (f *fakeMembers) GetMember(_ context.Context, name string) (*membership.Member, error) {
	member, ok := f.members[name]
	if !ok {
		return nil, membership.ErrNotFound
	}
	return member, nil
}

type fakeStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uuid.UUID]*Record)}
}

func (f *fakeStore) Save(_ context.Context, record *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	copied := *record
	f.records[record.ID] = &copied
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeStore) List(_ context.Context) ([]*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Record
	for _, record := range f.records {
		copied := *record
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, record *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.ID]; !ok {
		return ErrRecordNotFound
	}
	copied := *record
	f.records[record.ID] = &copied
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// ackingPublisher acknowledges every published event, standing in for a
// live consumer.
type ackingPublisher struct {
	bridge *notify.Bridge

	mu        sync.Mutex
	published int
}

func (p *ackingPublisher) Publish(_ context.Context, _, correlationID string, _ []byte) error {
	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	id, err := uuid.Parse(correlationID)
	if err != nil {
		return err
	}
	go p.bridge.Ack(id)
	return nil
}

func (p *ackingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// silentPublisher accepts events but never acknowledges them.
type silentPublisher struct{}

func (silentPublisher) Publish(context.Context, string, string, []byte) error { return nil }

type fixture struct {
	coordinator *Coordinator
	catalog     *fakeCatalog
	store       *fakeStore
	publisher   *ackingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat := &fakeCatalog{books: map[string]*catalog.Book{
		"Effective Java": {ID: uuid.New(), Title: "Effective Java", Author: "Joshua Bloch", TotalCopies: 5, AvailableCopies: 2},
		"Clean Code":     {ID: uuid.New(), Title: "Clean Code", Author: "Robert C. Martin", TotalCopies: 4, AvailableCopies: 0},
	}}
	members := &fakeMembers{members: map[string]*membership.Member{
		"John Doe":   {ID: uuid.New(), Name: "John Doe", Role: membership.RoleMember},
		"Jane Smith": {ID: uuid.New(), Name: "Jane Smith", Role: membership.RoleMember},
	}}
	store := newFakeStore()

	publisher := &ackingPublisher{}
	bridge := notify.NewBridge(publisher, zerolog.Nop())
	publisher.bridge = bridge

	c := NewCoordinator(cat, members, store, inventory.NewLedger(), bridge, time.Second, zerolog.Nop())

	return &fixture{coordinator: c, catalog: cat, store: store, publisher: publisher}
}

func TestCheckoutCompletes(t *testing.T) {
	f := newFixture(t)

	outcome := f.coordinator.Checkout(context.Background(), "John Doe", "Effective Java")

	require.Equal(t, StatusCompleted, outcome.Status)
	require.NotNil(t, outcome.Record)
	assert.Equal(t, KindRental, outcome.Record.Kind)
	assert.Equal(t, "John Doe", outcome.Record.Member)
	assert.Equal(t, "Effective Java", outcome.Record.Book)
	assert.WithinDuration(t, outcome.Record.CreatedAt.Add(RentalPeriod), outcome.Record.DueDate, time.Second)
	assert.False(t, outcome.Record.Returned)

	assert.Contains(t, outcome.Receipt, "RENTAL RECEIPT")
	assert.Contains(t, outcome.Receipt, "Status: Success")
	assert.Contains(t, outcome.Receipt, MsgRentalIssued)

	assert.Equal(t, 1, f.catalog.available("Effective Java"))
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.publisher.count())
}

func TestHoldCompletes(t *testing.T) {
	f := newFixture(t)

	outcome := f.coordinator.Hold(context.Background(), "Jane Smith", "Effective Java")

	require.Equal(t, StatusCompleted, outcome.Status)
	require.NotNil(t, outcome.Record)
	assert.Equal(t, KindHold, outcome.Record.Kind)
	assert.True(t, outcome.Record.Active)
	assert.WithinDuration(t, outcome.Record.CreatedAt.Add(HoldPeriod), outcome.Record.ExpiresAt, time.Second)
	assert.Contains(t, outcome.Receipt, "RESERVATION RECEIPT")
	assert.Contains(t, outcome.Receipt, MsgHoldPlaced)
}

func TestParticipantNotFoundWinsTieBreak(t *testing.T) {
	f := newFixture(t)

	// Both unknown: the participant lookup decides.
	outcome := f.coordinator.Checkout(context.Background(), "Nobody", "No Such Book")
	require.Equal(t, StatusRejected, outcome.Status)
	assert.Equal(t, ReasonParticipantNotFound, outcome.Reason)
	assert.Contains(t, outcome.Receipt, MsgParticipantNotFound)

	// Known participant, unknown book.
	outcome = f.coordinator.Checkout(context.Background(), "John Doe", "No Such Book")
	require.Equal(t, StatusRejected, outcome.Status)
	assert.Equal(t, ReasonItemNotFound, outcome.Reason)
	assert.Contains(t, outcome.Receipt, MsgItemNotFound)
}

func TestRejectionIsIdempotent(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		outcome := f.coordinator.Checkout(context.Background(), "John Doe", "No Such Book")
		require.Equal(t, StatusRejected, outcome.Status)
		assert.Equal(t, ReasonItemNotFound, outcome.Reason)
	}

	assert.Zero(t, f.store.count(), "rejections must not create records")
	assert.Zero(t, f.publisher.count(), "rejections must not publish notifications")
}

func TestNoCopiesAvailableRejects(t *testing.T) {
	f := newFixture(t)

	outcome := f.coordinator.Checkout(context.Background(), "John Doe", "Clean Code")

	require.Equal(t, StatusRejected, outcome.Status)
	assert.Equal(t, ReasonNoCopiesAvailable, outcome.Reason)
	assert.Contains(t, outcome.Receipt, MsgNoCopiesAvailable)
	assert.Contains(t, outcome.Receipt, "Status: Declined")
	assert.Nil(t, outcome.Record)

	assert.Equal(t, 0, f.catalog.available("Clean Code"))
	assert.Zero(t, f.store.count())
	assert.Zero(t, f.publisher.count())
}

func TestPersistenceFailureReleasesReservedCopy(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("storage unavailable")

	before := f.catalog.available("Effective Java")
	outcome := f.coordinator.Checkout(context.Background(), "John Doe", "Effective Java")

	require.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, ReasonInternalError, outcome.Reason)
	assert.Empty(t, outcome.Receipt)

	assert.Equal(t, before, f.catalog.available("Effective Java"), "compensating release must restore the counter")
	assert.Zero(t, f.publisher.count(), "failed operations must not publish notifications")
}

func TestNotificationTimeoutStillCompletes(t *testing.T) {
	cat := &fakeCatalog{books: map[string]*catalog.Book{
		"Dune": {ID: uuid.New(), Title: "Dune", TotalCopies: 1, AvailableCopies: 1},
	}}
	members := &fakeMembers{members: map[string]*membership.Member{
		"John Doe": {ID: uuid.New(), Name: "John Doe"},
	}}
	store := newFakeStore()
	bridge := notify.NewBridge(silentPublisher{}, zerolog.Nop())

	c := NewCoordinator(cat, members, store, inventory.NewLedger(), bridge, 30*time.Millisecond, zerolog.Nop())

	start := time.Now()
	outcome := c.Checkout(context.Background(), "John Doe", "Dune")

	require.Equal(t, StatusCompleted, outcome.Status, "timeout is best-effort, not a failure")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 1, store.count())
}

func TestConcurrentCheckoutsRespectInventory(t *testing.T) {
	f := newFixture(t)
	f.catalog.books["Effective Java"].AvailableCopies = 2

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 2)
	for _, member := range []string{"John Doe", "Jane Smith"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			outcomes <- f.coordinator.Checkout(context.Background(), name, "Effective Java")
		}(member)
	}
	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		assert.Equal(t, StatusCompleted, outcome.Status)
	}
	assert.Equal(t, 0, f.catalog.available("Effective Java"))

	// A third request finds the shelf empty.
	outcome := f.coordinator.Checkout(context.Background(), "John Doe", "Effective Java")
	require.Equal(t, StatusRejected, outcome.Status)
	assert.Equal(t, ReasonNoCopiesAvailable, outcome.Reason)
	assert.Equal(t, 0, f.catalog.available("Effective Java"))
}

func TestCheckoutAfterCatalogEditKeepsNewTotals(t *testing.T) {
	f := newFixture(t)

	// First checkout seeds the ledger: catalog goes from 5/2 to 5/1.
	outcome := f.coordinator.Checkout(context.Background(), "John Doe", "Effective Java")
	require.Equal(t, StatusCompleted, outcome.Status)

	// A catalog edit raises the total by five; the edit adds the delta to
	// the available count as well.
	f.catalog.edit("Effective Java", 10, 6)

	// The next checkout must fold the edit into the ledger instead of
	// writing the pre-edit counters back.
	outcome = f.coordinator.Checkout(context.Background(), "Jane Smith", "Effective Java")
	require.Equal(t, StatusCompleted, outcome.Status)

	total, available := f.catalog.counts("Effective Java")
	assert.Equal(t, 10, total, "catalog edit must survive the next checkout")
	assert.Equal(t, 5, available)
}

func TestNewCoordinatorAckWait(t *testing.T) {
	bridge := notify.NewBridge(silentPublisher{}, zerolog.Nop())

	c := NewCoordinator(nil, nil, nil, inventory.NewLedger(), bridge, 0, zerolog.Nop())
	assert.Equal(t, DefaultAckWait, c.ackWait)

	c = NewCoordinator(nil, nil, nil, inventory.NewLedger(), bridge, 3*time.Second, zerolog.Nop())
	assert.Equal(t, 3*time.Second, c.ackWait)
}

func TestReturnReleasesCopy(t *testing.T) {
	f := newFixture(t)

	outcome := f.coordinator.Checkout(context.Background(), "John Doe", "Effective Java")
	require.Equal(t, StatusCompleted, outcome.Status)
	require.Equal(t, 1, f.catalog.available("Effective Java"))

	record, err := f.coordinator.Return(context.Background(), outcome.Record.ID)
	require.NoError(t, err)
	assert.True(t, record.Returned)
	require.NotNil(t, record.ReturnDate)
	assert.Equal(t, 2, f.catalog.available("Effective Java"))

	// Returning again is a no-op.
	again, err := f.coordinator.Return(context.Background(), outcome.Record.ID)
	require.NoError(t, err)
	assert.True(t, again.Returned)
	assert.Equal(t, 2, f.catalog.available("Effective Java"))
}

func TestCancelHoldReleasesCopy(t *testing.T) {
	f := newFixture(t)

	outcome := f.coordinator.Hold(context.Background(), "Jane Smith", "Effective Java")
	require.Equal(t, StatusCompleted, outcome.Status)

	record, err := f.coordinator.CancelHold(context.Background(), outcome.Record.ID)
	require.NoError(t, err)
	assert.False(t, record.Active)
	assert.Equal(t, 2, f.catalog.available("Effective Java"))
}

func TestReturnRejectsWrongKind(t *testing.T) {
	f := newFixture(t)

	outcome := f.coordinator.Hold(context.Background(), "Jane Smith", "Effective Java")
	require.Equal(t, StatusCompleted, outcome.Status)

	_, err := f.coordinator.Return(context.Background(), outcome.Record.ID)
	assert.Error(t, err)

	_, err = f.coordinator.CancelHold(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGetAndListRecords(t *testing.T) {
	f := newFixture(t)

	outcome := f.coordinator.Checkout(context.Background(), "John Doe", "Effective Java")
	require.Equal(t, StatusCompleted, outcome.Status)

	record, err := f.coordinator.GetRecord(context.Background(), outcome.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, outcome.Record.ID, record.ID)

	records, err := f.coordinator.ListRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReceiptMentionsBothParties(t *testing.T) {
	f := newFixture(t)

	outcome := f.coordinator.Checkout(context.Background(), "John Doe", "Effective Java")
	require.Equal(t, StatusCompleted, outcome.Status)

	for _, want := range []string{"John Doe", "Effective Java"} {
		if !strings.Contains(outcome.Receipt, want) {
			t.Errorf("receipt missing %q:\n%s", want, outcome.Receipt)
		}
	}
}
