package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	azruntime "github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"prism-board/domain"
)

type fakeTable struct {
	rows    map[string][]byte
	listErr error
	filters []string
	actions []aztables.TransactionAction
}

// NewListEntitiesPager serves the rows of the partition named in a
// "PartitionKey eq '...'" filter as a single page.
func (f *fakeTable) NewListEntitiesPager(o *aztables.ListEntitiesOptions) *azruntime.Pager[aztables.ListEntitiesResponse] {
	var filter string
	if o != nil && o.Filter != nil {
		filter = *o.Filter
	}
	f.filters = append(f.filters, filter)
	pk := strings.TrimSuffix(strings.TrimPrefix(filter, "PartitionKey eq '"), "'")
	return azruntime.NewPager(azruntime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(context.Context, *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			if f.listErr != nil {
				return aztables.ListEntitiesResponse{}, f.listErr
			}
			var resp aztables.ListEntitiesResponse
			for key, data := range f.rows {
				if strings.HasPrefix(key, pk+"/") {
					resp.Entities = append(resp.Entities, data)
				}
			}
			return resp, nil
		},
	})
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, o *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.actions = actions
	if f.rows == nil {
		f.rows = map[string][]byte{}
	}
	for _, a := range actions {
		var keys struct {
			PartitionKey string `json:"PartitionKey"`
			RowKey       string `json:"RowKey"`
		}
		if err := json.Unmarshal(a.Entity, &keys); err != nil {
			return aztables.TransactionResponse{}, err
		}
		f.rows[keys.PartitionKey+"/"+keys.RowKey] = a.Entity
	}
	return aztables.TransactionResponse{}, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	inFlight int
	max      int
	failAt   int
	delay    map[string]time.Duration
	messages []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{failAt: -1, delay: map[string]time.Duration{}}
}

// EnqueueMessage records content once the send completes, so a slow send
// lands after a faster one that started later.
func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	var ev domain.Event
	if err := json.Unmarshal([]byte(content), &ev); err != nil {
		return azqueue.EnqueueMessagesResponse{}, err
	}
	f.mu.Lock()
	f.inFlight++
	f.max = max(f.max, f.inFlight)
	d := f.delay[ev.Type]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	select {
	case <-time.After(d):
	case <-ctx.Done():
		return azqueue.EnqueueMessagesResponse{}, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt >= 0 && len(f.messages) == f.failAt {
		return azqueue.EnqueueMessagesResponse{}, errors.New("enqueue failure")
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func sampleSnapshot() domain.Snapshot {
	snap := domain.DefaultSnapshot()
	snap.Tasks = []domain.Task{
		{ID: "task-1", Title: "Design schema", Priority: domain.PriorityHigh, Status: "To Do", ColumnID: "column-1", Position: 0, Tags: []domain.Tag{}, Comments: []domain.Comment{}},
		{ID: "task-2", Title: "Ship it", Priority: domain.PriorityLow, Status: domain.DoneStatus, ColumnID: "column-4", Position: 0, Tags: []domain.Tag{}, Comments: []domain.Comment{}},
	}
	snap.ActiveTaskID = "task-1"
	return snap
}

func TestStorageLoadWithoutSlotsSeedsDefault(t *testing.T) {
	store := &Storage{boardTable: &fakeTable{}, now: time.Now}

	snap, found, err := store.LoadBoard(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatalf("expected no saved state")
	}
	if len(snap.Columns) != 4 || snap.Board.ID != "board-1" {
		t.Fatalf("expected default board, got %+v", snap)
	}
}

func TestStorageSaveThenLoad(t *testing.T) {
	table := &fakeTable{}
	store := &Storage{boardTable: table, now: func() time.Time { return time.UnixMilli(1700) }}
	ctx := context.Background()

	if err := store.SaveBoard(ctx, "user/1", sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(table.actions) != len(slotNames) {
		t.Fatalf("expected one action per slot, got %d", len(table.actions))
	}
	for _, a := range table.actions {
		if a.ActionType != aztables.TransactionTypeInsertReplace {
			t.Fatalf("unexpected action type %v", a.ActionType)
		}
		if !strings.Contains(string(a.Entity), `"PartitionKey":"`+partitionKey("user/1")+`"`) {
			t.Fatalf("partition key not encoded: %s", a.Entity)
		}
	}

	snap, found, err := store.LoadBoard(ctx, "user/1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatalf("expected saved state")
	}
	if len(snap.Tasks) != 2 || snap.Tasks[1].Title != "Ship it" || snap.ActiveTaskID != "task-1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestStorageLoadUsesOnePartitionQuery(t *testing.T) {
	table := &fakeTable{}
	store := &Storage{boardTable: table, now: time.Now}
	ctx := context.Background()
	if err := store.SaveBoard(ctx, "alice", sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveBoard(ctx, "bob", domain.DefaultSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}

	snap, found, err := store.LoadBoard(ctx, "alice")
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if len(table.filters) != 1 || table.filters[0] != "PartitionKey eq '"+partitionKey("alice")+"'" {
		t.Fatalf("expected a single partition query, got %q", table.filters)
	}
	if len(snap.Tasks) != 2 {
		t.Fatalf("expected alice's tasks only, got %+v", snap.Tasks)
	}
}

func TestPartitionKeyIsInjective(t *testing.T) {
	users := []string{"tenant/alice", "tenant_alice", `tenant\alice`, "tenant#alice", "tenant?alice", "tenant-alice", "", "a", "ä"}
	seen := map[string]string{}
	for _, u := range users {
		pk := partitionKey(u)
		if other, ok := seen[pk]; ok {
			t.Fatalf("users %q and %q share partition %q", other, u, pk)
		}
		seen[pk] = u
		if strings.ContainsAny(pk, `/\#?'`) {
			t.Fatalf("partition key %q for %q holds a forbidden character", pk, u)
		}
	}
}

func TestDistinctUsersDoNotShareBoards(t *testing.T) {
	store := &Storage{boardTable: &fakeTable{}, now: time.Now}
	ctx := context.Background()
	if err := store.SaveBoard(ctx, "tenant/alice", sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, found, err := store.LoadBoard(ctx, "tenant_alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatalf("tenant_alice must not see tenant/alice's board")
	}
}

func TestStorageLoadPropagatesErrors(t *testing.T) {
	store := &Storage{boardTable: &fakeTable{listErr: errors.New("boom")}}
	if _, _, err := store.LoadBoard(context.Background(), "u"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSlotEntityChunksLargeValues(t *testing.T) {
	value := []byte(`"` + strings.Repeat("ä", chunkSize) + `"`)
	payload, err := encodeSlotEntity("pk", SlotTasks, value, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var props map[string]any
	if err := json.Unmarshal(payload, &props); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if props["Chunks"].(float64) < 2 {
		t.Fatalf("expected value split into chunks, got %v", props["Chunks"])
	}
	if props["UpdatedAt@odata.type"] != edmInt64 {
		t.Fatalf("missing odata type")
	}
	name, got, err := decodeSlotEntity(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if name != SlotTasks || string(got) != string(value) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeSlotEntityWithoutChunkCount(t *testing.T) {
	name, got, err := decodeSlotEntity([]byte(`{"PartitionKey":"u1","RowKey":"active-drag","Value":"\"task-9\""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if name != SlotActiveDrag || string(got) != `"task-9"` {
		t.Fatalf("unexpected slot %s=%s", name, got)
	}
	if _, _, err := decodeSlotEntity([]byte(`{"Chunks":2,"Value":"a"}`)); err == nil {
		t.Fatalf("expected error for missing chunk")
	}
}

func orderedEvents() []domain.Event {
	return []domain.Event{
		{ID: "ev-1", EntityID: "task-1", EntityType: "task", Type: domain.TaskCreated, Time: 5},
		{ID: "ev-2", EntityID: "task-1", EntityType: "task", Type: domain.TaskMoved, Time: 5},
		{ID: "ev-3", EntityID: "task-1", EntityType: "task", Type: domain.TaskDeleted, Time: 5},
	}
}

func TestPublishEventsKeepsApplyOrder(t *testing.T) {
	fq := newFakeQueue()
	fq.delay[domain.TaskCreated] = 20 * time.Millisecond
	store := &Storage{eventQueue: fq}

	if err := store.PublishEvents(context.Background(), "user", orderedEvents()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fq.max != 1 {
		t.Fatalf("expected one send at a time, observed %d in flight", fq.max)
	}
	want := []string{domain.TaskCreated, domain.TaskMoved, domain.TaskDeleted}
	if len(fq.messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(fq.messages))
	}
	for i, msg := range fq.messages {
		var ev domain.Event
		if err := json.Unmarshal([]byte(msg), &ev); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if ev.Type != want[i] {
			t.Fatalf("message %d is %s, want %s", i, ev.Type, want[i])
		}
		if ev.UserID != "user" {
			t.Fatalf("expected user id stamped on event, got %q", ev.UserID)
		}
	}
}

func TestPublishEventsStopsAtFirstError(t *testing.T) {
	fq := newFakeQueue()
	fq.failAt = 1
	store := &Storage{eventQueue: fq}

	err := store.PublishEvents(context.Background(), "user", orderedEvents())
	if err == nil || !strings.Contains(err.Error(), domain.TaskMoved) {
		t.Fatalf("expected failure on the second event, got %v", err)
	}
	if len(fq.messages) != 1 {
		t.Fatalf("expected later events to stay unsent, got %d messages", len(fq.messages))
	}
}

func TestPublishEventsEmpty(t *testing.T) {
	fq := newFakeQueue()
	store := &Storage{eventQueue: fq}
	if err := store.PublishEvents(context.Background(), "user", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fq.messages) != 0 {
		t.Fatalf("expected no messages")
	}
}
