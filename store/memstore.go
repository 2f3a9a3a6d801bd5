package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/floegence/tidegate/tgerrors"
)

// MemStore is an in-memory reactive store: buckets of JSON-shaped records
// and named queries of the form "all-<bucket>". Mutations schedule query
// re-evaluation on a single background goroutine, so emissions for one
// subscription arrive in mutation order; Settle waits for the backlog.
type MemStore struct {
	mu      sync.Mutex
	buckets map[string]map[string]map[string]any // bucket -> record id -> record
	subs    map[string]*memSub
	nextSub int64
	seq     int64 // Record insertion order within a bucket.

	tasks   chan func()
	pending sync.WaitGroup
	closed  bool
}

type memSub struct {
	id     string
	bucket string
	emit   EmitFunc
}

// NewMemStore starts the re-evaluation goroutine.
func NewMemStore() *MemStore {
	s := &MemStore{
		buckets: make(map[string]map[string]map[string]any),
		subs:    make(map[string]*memSub),
		tasks:   make(chan func(), 256),
	}
	go func() {
		for task := range s.tasks {
			task()
		}
	}()
	return s
}

// Close stops the re-evaluation goroutine. Pending emissions are delivered.
func (s *MemStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.tasks)
}

func (s *MemStore) Execute(_ context.Context, op string, params map[string]any) (any, error) {
	switch op {
	case "insert":
		return s.insert(params)
	case "update":
		return s.update(params)
	case "delete":
		return s.deleteRecord(params)
	case "get":
		return s.get(params)
	case "all":
		return s.all(params)
	case "query":
		query, _ := params["query"].(string)
		return s.evalQuery(query)
	default:
		return nil, tgerrors.Newf(tgerrors.KindUnknownOperation, "unknown store operation %q", op)
	}
}

func (s *MemStore) Subscribe(_ context.Context, query string, _ map[string]any, emit EmitFunc) (*Subscription, error) {
	bucket, err := queryBucket(query)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.nextSub++
	id := fmt.Sprintf("s%d", s.nextSub)
	s.subs[id] = &memSub{id: id, bucket: bucket, emit: emit}
	initial := s.collectLocked(bucket)
	s.mu.Unlock()
	return &Subscription{
		ID:          id,
		InitialData: initial,
		Unsubscribe: func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		},
	}, nil
}

func (s *MemStore) Settle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemStore) insert(params map[string]any) (any, error) {
	bucket, err := bucketParam(params)
	if err != nil {
		return nil, err
	}
	data, ok := params["data"].(map[string]any)
	if !ok {
		return nil, tgerrors.New(tgerrors.KindValidation, "missing record data")
	}
	record := make(map[string]any, len(data)+1)
	for k, v := range data {
		record[k] = v
	}
	s.mu.Lock()
	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.NewString()
		record["id"] = id
	}
	b := s.buckets[bucket]
	if b == nil {
		b = make(map[string]map[string]any)
		s.buckets[bucket] = b
	}
	if _, exists := b[id]; exists {
		s.mu.Unlock()
		return nil, tgerrors.Newf(tgerrors.KindConflict, "record %q already exists", id)
	}
	s.seq++
	record["_seq"] = s.seq
	b[id] = record
	s.notifyLocked(bucket)
	s.mu.Unlock()
	return publicRecord(record), nil
}

func (s *MemStore) update(params map[string]any) (any, error) {
	bucket, err := bucketParam(params)
	if err != nil {
		return nil, err
	}
	id, _ := params["id"].(string)
	data, ok := params["data"].(map[string]any)
	if id == "" || !ok {
		return nil, tgerrors.New(tgerrors.KindValidation, "missing record id or data")
	}
	s.mu.Lock()
	record := s.buckets[bucket][id]
	if record == nil {
		s.mu.Unlock()
		return nil, tgerrors.Newf(tgerrors.KindNotFound, "record %q not found", id)
	}
	for k, v := range data {
		if k == "id" || k == "_seq" {
			continue
		}
		record[k] = v
	}
	s.notifyLocked(bucket)
	s.mu.Unlock()
	return publicRecord(record), nil
}

func (s *MemStore) deleteRecord(params map[string]any) (any, error) {
	bucket, err := bucketParam(params)
	if err != nil {
		return nil, err
	}
	id, _ := params["id"].(string)
	if id == "" {
		return nil, tgerrors.New(tgerrors.KindValidation, "missing record id")
	}
	s.mu.Lock()
	if _, exists := s.buckets[bucket][id]; !exists {
		s.mu.Unlock()
		return nil, tgerrors.Newf(tgerrors.KindNotFound, "record %q not found", id)
	}
	delete(s.buckets[bucket], id)
	s.notifyLocked(bucket)
	s.mu.Unlock()
	return map[string]any{"deleted": true, "id": id}, nil
}

func (s *MemStore) get(params map[string]any) (any, error) {
	bucket, err := bucketParam(params)
	if err != nil {
		return nil, err
	}
	id, _ := params["id"].(string)
	if id == "" {
		return nil, tgerrors.New(tgerrors.KindValidation, "missing record id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.buckets[bucket][id]
	if record == nil {
		return nil, tgerrors.Newf(tgerrors.KindNotFound, "record %q not found", id)
	}
	return publicRecord(record), nil
}

func (s *MemStore) all(params map[string]any) (any, error) {
	bucket, err := bucketParam(params)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked(bucket), nil
}

func (s *MemStore) evalQuery(query string) (any, error) {
	bucket, err := queryBucket(query)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectLocked(bucket), nil
}

// notifyLocked schedules re-evaluation for every subscription on bucket.
// Results are computed here, under the lock, so a later mutation cannot be
// observed by an earlier emission.
func (s *MemStore) notifyLocked(bucket string) {
	if s.closed {
		return
	}
	for _, sub := range s.subs {
		if sub.bucket != bucket {
			continue
		}
		data := s.collectLocked(bucket)
		emit := sub.emit
		s.pending.Add(1)
		s.tasks <- func() {
			defer s.pending.Done()
			emit(data)
		}
	}
}

// collectLocked returns the bucket's records in insertion order.
func (s *MemStore) collectLocked(bucket string) []any {
	records := make([]map[string]any, 0, len(s.buckets[bucket]))
	for _, r := range s.buckets[bucket] {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		si, _ := records[i]["_seq"].(int64)
		sj, _ := records[j]["_seq"].(int64)
		return si < sj
	})
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = publicRecord(r)
	}
	return out
}

func publicRecord(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		if k == "_seq" {
			continue
		}
		out[k] = v
	}
	return out
}

func bucketParam(params map[string]any) (string, error) {
	bucket, _ := params["bucket"].(string)
	if bucket == "" {
		return "", tgerrors.New(tgerrors.KindValidation, "missing bucket")
	}
	return bucket, nil
}

func queryBucket(query string) (string, error) {
	bucket, ok := strings.CutPrefix(query, "all-")
	if !ok || bucket == "" {
		return "", tgerrors.Newf(tgerrors.KindNotFound, "unknown query %q", query)
	}
	return bucket, nil
}
