package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/metrics"
)

// Writer accumulates operations for one collection.
type Writer struct {
	collection string
	store      Store
	logger     *log.Logger
	metrics    *metrics.Collector

	mu  sync.Mutex
	ops []Operation
	// merged maps a document id to the index of the update or insert op
	// later updates fold into. A field op staged after an update ends the
	// merge window so the two keep their order.
	merged map[string]int
}

// NewWriter creates a writer for collection.
func NewWriter(collection string, store Store, logger *log.Logger, m *metrics.Collector) *Writer {
	return &Writer{
		collection: collection,
		store:      store,
		logger:     log.OrNop(logger),
		metrics:    m,
		merged:     make(map[string]int),
	}
}

// Collection returns the target collection.
func (w *Writer) Collection() string { return w.collection }

// Update stages field changes for id. Repeated updates of the same id merge,
// and an update of a staged insert is folded into the inserted document.
func (w *Writer) Update(id string, delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if i, ok := w.merged[id]; ok {
		op := &w.ops[i]
		switch op.Kind {
		case OpInsert:
			for k, v := range delta {
				setPath(op.Doc, k, v)
			}
		default:
			maps.Copy(op.Set, delta)
		}
		return
	}
	w.merged[id] = len(w.ops)
	w.ops = append(w.ops, Operation{Kind: OpUpdate, ID: id, Set: maps.Clone(delta)})
}

// Insert stages a new document. An empty id is generated. Returns the id.
func (w *Writer) Insert(doc map[string]any, id string) string {
	if id == "" {
		if existing, ok := doc["_id"].(string); ok && existing != "" {
			id = existing
		} else {
			id = uuid.NewString()
		}
	}
	d := maps.Clone(doc)
	if d == nil {
		d = make(map[string]any)
	}
	d["_id"] = id

	w.mu.Lock()
	defer w.mu.Unlock()
	w.merged[id] = len(w.ops)
	w.ops = append(w.ops, Operation{Kind: OpInsert, ID: id, Doc: d})
	return id
}

// InsertValue stages v, encoded through its JSON field names.
func (w *Writer) InsertValue(v any, id string) (string, error) {
	doc, err := ToDocument(v)
	if err != nil {
		return "", err
	}
	return w.Insert(doc, id), nil
}

// Remove stages deletion of id and drops any other staged op for it.
// Removing a document inserted in the same batch cancels both.
func (w *Writer) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	inserted := false
	kept := w.ops[:0]
	for _, op := range w.ops {
		if op.ID == id {
			if op.Kind == OpInsert {
				inserted = true
			}
			continue
		}
		kept = append(kept, op)
	}
	w.ops = kept
	if !inserted {
		w.ops = append(w.ops, Operation{Kind: OpRemove, ID: id})
	}
	w.reindexLocked()
}

// Increment stages field += amount.
func (w *Writer) Increment(id, field string, amount int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if doc := w.insertedDocLocked(id); doc != nil {
		setPath(doc, field, toInt64(getPath(doc, field))+amount)
		return
	}
	w.appendFieldOpLocked(Operation{Kind: OpIncrement, ID: id, Field: field, Amount: amount})
}

// AddToSet stages adding value to the array field when absent.
func (w *Writer) AddToSet(id, field string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if doc := w.insertedDocLocked(id); doc != nil {
		setPath(doc, field, AddToSlice(getPath(doc, field), value))
		return
	}
	w.appendFieldOpLocked(Operation{Kind: OpAddToSet, ID: id, Field: field, Value: value})
}

// Pull stages removing every occurrence of value from the array field.
func (w *Writer) Pull(id, field string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if doc := w.insertedDocLocked(id); doc != nil {
		setPath(doc, field, PullFromSlice(getPath(doc, field), value))
		return
	}
	w.appendFieldOpLocked(Operation{Kind: OpPull, ID: id, Field: field, Value: value})
}

// HasPendingOperations reports whether anything is staged.
func (w *Writer) HasPendingOperations() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ops) > 0
}

// Len returns the number of staged operations.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ops)
}

// Pending returns a copy of the staged operations.
func (w *Writer) Pending() []Operation {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Operation, len(w.ops))
	copy(out, w.ops)
	return out
}

// Clear discards staged operations without executing them.
func (w *Writer) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ops = nil
	w.merged = make(map[string]int)
}

// Execute submits every staged operation as one batch and clears the buffer.
// An empty writer is a no-op.
func (w *Writer) Execute(ctx context.Context) error {
	w.mu.Lock()
	ops := w.ops
	w.ops = nil
	w.merged = make(map[string]int)
	w.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	batch := &Batch{ID: uuid.NewString(), Collection: w.collection, Ops: ops}
	err := w.store.BulkWrite(ctx, batch)
	w.metrics.RecordBulk(len(ops), err)
	if err != nil {
		w.logger.Error("bulk write failed", map[string]any{
			"collection": w.collection,
			"batch_id":   batch.ID,
			"ops":        len(ops),
			"error":      err.Error(),
		})
		return &BatchError{Collection: w.collection, BatchID: batch.ID, Ops: len(ops), Err: err}
	}
	w.logger.Debug("bulk write committed", map[string]any{
		"collection": w.collection,
		"batch_id":   batch.ID,
		"ops":        len(ops),
	})
	return nil
}

func (w *Writer) insertedDocLocked(id string) map[string]any {
	if i, ok := w.merged[id]; ok && w.ops[i].Kind == OpInsert {
		return w.ops[i].Doc
	}
	return nil
}

func (w *Writer) appendFieldOpLocked(op Operation) {
	delete(w.merged, op.ID)
	w.ops = append(w.ops, op)
}

func (w *Writer) reindexLocked() {
	w.merged = make(map[string]int, len(w.ops))
	for i, op := range w.ops {
		switch op.Kind {
		case OpUpdate, OpInsert:
			w.merged[op.ID] = i
		case OpIncrement, OpAddToSet, OpPull:
			delete(w.merged, op.ID)
		}
	}
}

// ToDocument converts a struct into a document map using its JSON tags.
func ToDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// ApplyOperation applies op to doc in place. Used by in-process stores.
// Remove and insert are handled by the caller.
func ApplyOperation(doc map[string]any, op Operation) {
	switch op.Kind {
	case OpUpdate:
		for k, v := range op.Set {
			setPath(doc, k, v)
		}
	case OpIncrement:
		setPath(doc, op.Field, toInt64(getPath(doc, op.Field))+op.Amount)
	case OpAddToSet:
		setPath(doc, op.Field, AddToSlice(getPath(doc, op.Field), op.Value))
	case OpPull:
		setPath(doc, op.Field, PullFromSlice(getPath(doc, op.Field), op.Value))
	}
}

// setPath assigns v at a dotted path, creating intermediate maps. A nil v
// deletes the leaf.
func setPath(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	leaf := parts[len(parts)-1]
	if v == nil {
		delete(cur, leaf)
		return
	}
	cur[leaf] = v
}

func getPath(doc map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// AddToSlice appends value to an array-like field unless already present.
func AddToSlice(field, value any) []any {
	arr := asSlice(field)
	for _, v := range arr {
		if equalValues(v, value) {
			return arr
		}
	}
	return append(arr, value)
}

// PullFromSlice removes every occurrence of value from an array-like field.
func PullFromSlice(field, value any) []any {
	arr := asSlice(field)
	out := arr[:0]
	for _, v := range arr {
		if !equalValues(v, value) {
			out = append(out, v)
		}
	}
	return out
}

func asSlice(v any) []any {
	switch a := v.(type) {
	case []any:
		return append([]any(nil), a...)
	case []string:
		out := make([]any, len(a))
		for i, s := range a {
			out[i] = s
		}
		return out
	}
	return nil
}

func equalValues(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	an, aok := numeric(a)
	bn, bok := numeric(b)
	return aok && bok && an == bn
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
