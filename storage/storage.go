package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	azruntime "github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"prism-board/domain"
)

const (
	// Table string properties hold at most 64KiB of UTF-16.
	chunkSize = 30000

	edmInt64 = "Edm.Int64"
)

type slotTable interface {
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *azruntime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

type eventQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage keeps board sessions in an Azure table, one entity per slot, and
// sends board events to an Azure queue.
type Storage struct {
	boardTable slotTable
	eventQueue eventQueue
	now        func() time.Time
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boardTable: svc.NewClient(boardTable),
		eventQueue: eq,
		now:        time.Now,
	}, nil
}

// partitionKey encodes a user id as unpadded base64url, which is injective and
// free of the characters table keys reject.
func partitionKey(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// LoadBoard reads every slot stored for the user with a single partition
// query. found is false when the user has no saved state, in which case the
// default board is returned.
func (s *Storage) LoadBoard(ctx context.Context, userID string) (domain.Snapshot, bool, error) {
	filter := "PartitionKey eq '" + partitionKey(userID) + "'"
	pager := s.boardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	slots := make(map[string][]byte, len(slotNames))
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Snapshot{}, false, fmt.Errorf("list slots: %w", err)
		}
		for _, e := range resp.Entities {
			name, value, err := decodeSlotEntity(e)
			if err != nil {
				return domain.Snapshot{}, false, fmt.Errorf("read slot %s: %w", name, err)
			}
			slots[name] = value
		}
	}
	return decodeSlots(slots)
}

// SaveBoard replaces all slots of the user in a single table transaction.
func (s *Storage) SaveBoard(ctx context.Context, userID string, snap domain.Snapshot) error {
	slots, err := encodeSlots(snap)
	if err != nil {
		return err
	}
	pk := partitionKey(userID)
	ts := s.now().UnixMilli()
	actions := make([]aztables.TransactionAction, 0, len(slotNames))
	for _, name := range slotNames {
		payload, err := encodeSlotEntity(pk, name, slots[name], ts)
		if err != nil {
			return err
		}
		actions = append(actions, aztables.TransactionAction{
			ActionType: aztables.TransactionTypeInsertReplace,
			Entity:     payload,
		})
	}
	if _, err := s.boardTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return fmt.Errorf("save board: %w", err)
	}
	return nil
}

// PublishEvents sends the events to the events queue one at a time, in order,
// so consumers see them in the order they were applied.
func (s *Storage) PublishEvents(ctx context.Context, userID string, events []domain.Event) error {
	for _, ev := range events {
		if ev.UserID == "" {
			ev.UserID = userID
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return fmt.Errorf("enqueue event %s: %w", ev.Type, err)
		}
	}
	return nil
}

func encodeSlotEntity(pk, name string, value []byte, ts int64) ([]byte, error) {
	chunks := splitChunks(string(value), chunkSize)
	props := map[string]any{
		"PartitionKey":         pk,
		"RowKey":               name,
		"Chunks":               len(chunks),
		"UpdatedAt":            strconv.FormatInt(ts, 10),
		"UpdatedAt@odata.type": edmInt64,
	}
	for i, c := range chunks {
		props[chunkProperty(i)] = c
	}
	return json.Marshal(props)
}

// decodeSlotEntity returns the slot name (the row key) and the reassembled
// value of a stored entity.
func decodeSlotEntity(data []byte) (string, []byte, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, err
	}
	var name string
	if rk, ok := raw["RowKey"]; ok {
		if err := json.Unmarshal(rk, &name); err != nil {
			return "", nil, err
		}
	}
	chunks := 1
	if c, ok := raw["Chunks"]; ok {
		if err := json.Unmarshal(c, &chunks); err != nil {
			return name, nil, err
		}
	}
	var b strings.Builder
	for i := 0; i < chunks; i++ {
		v, ok := raw[chunkProperty(i)]
		if !ok {
			return name, nil, fmt.Errorf("missing %s", chunkProperty(i))
		}
		var part string
		if err := json.Unmarshal(v, &part); err != nil {
			return name, nil, err
		}
		b.WriteString(part)
	}
	return name, []byte(b.String()), nil
}

func chunkProperty(i int) string {
	if i == 0 {
		return "Value"
	}
	return "Value" + strconv.Itoa(i)
}

// splitChunks cuts s into pieces of at most size bytes without splitting a
// UTF-8 sequence.
func splitChunks(s string, size int) []string {
	if len(s) <= size {
		return []string{s}
	}
	var out []string
	for len(s) > size {
		end := size
		for end > 0 && !utf8.RuneStart(s[end]) {
			end--
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	return append(out, s)
}
