package outbox

import (
	"context"
	"sync"
)

const allTables = ""

// Dispatcher fans changes out to in-process subscribers. Delivery is
// best-effort: a subscriber whose buffer is full misses the record and is
// expected to catch up through the Tailer.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan ChangeRecord
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers for changes of table, or of every table when table is
// empty. The subscription ends when ctx is done or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, table string) (<-chan ChangeRecord, func()) {
	current := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeRecord, d.bufferSize),
	}
	d.register(table, current)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(table, current.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return current.stream, cleanup
}

// Publish delivers record to subscribers of its table and to catch-all subscribers.
func (d *Dispatcher) Publish(record ChangeRecord) {
	d.mu.RLock()
	targets := make([]*subscriber, 0)
	for _, current := range d.subscribers[allTables] {
		targets = append(targets, current)
	}
	if record.Table != allTables {
		for _, current := range d.subscribers[record.Table] {
			targets = append(targets, current)
		}
	}
	d.mu.RUnlock()

	for _, current := range targets {
		select {
		case current.stream <- record:
		default:
		}
	}
}

// Handle adapts Publish to a Tailer Handler.
func (d *Dispatcher) Handle(_ context.Context, record ChangeRecord) error {
	d.Publish(record)
	return nil
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(table string, current *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[table]; !ok {
		d.subscribers[table] = make(map[int64]*subscriber)
	}
	d.subscribers[table][current.id] = current
}

func (d *Dispatcher) unregister(table string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[table]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, table)
		}
	}
	d.mu.Unlock()
}
