// memory based implementation for testing purposes
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	gopenpgp "github.com/ProtonMail/gopenpgp/v2/crypto"

	"github.com/cyp0633/libcalseal/storage"
)

// Store implements storage.EventSource and storage.KeyStore using in-memory maps
type Store struct {
	mu           sync.RWMutex
	events       map[string]*storage.EncryptedEvent // key: calendarID/eventID
	calendarKeys map[string]*gopenpgp.KeyRing
	addressKeys  map[string]*gopenpgp.KeyRing
}

// New creates a new in-memory storage
func New() *Store {
	return &Store{
		events:       make(map[string]*storage.EncryptedEvent),
		calendarKeys: make(map[string]*gopenpgp.KeyRing),
		addressKeys:  make(map[string]*gopenpgp.KeyRing),
	}
}

func (s *Store) eventKey(calendarID, eventID string) string {
	return fmt.Sprintf("%s/%s", calendarID, eventID)
}

// Key operations

func (s *Store) SetCalendarKey(calendarID string, kr *gopenpgp.KeyRing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendarKeys[calendarID] = kr
}

func (s *Store) SetAddressKeys(email string, kr *gopenpgp.KeyRing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addressKeys[strings.ToLower(email)] = kr
}

func (s *Store) CalendarKey(_ context.Context, calendarID string) (*gopenpgp.KeyRing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kr, ok := s.calendarKeys[calendarID]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "calendar key not found",
		}
	}
	return kr, nil
}

func (s *Store) AddressKeys(_ context.Context, email string) (*gopenpgp.KeyRing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kr, ok := s.addressKeys[strings.ToLower(email)]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "address keys not found",
		}
	}
	return kr, nil
}

// Event operations

func (s *Store) CreateEvent(_ context.Context, ev *storage.EncryptedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" || ev.CalendarID == "" {
		return &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: "event and calendar ID are required",
		}
	}
	key := s.eventKey(ev.CalendarID, ev.ID)
	if _, exists := s.events[key]; exists {
		return &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "event already exists",
		}
	}

	ev.Modified = time.Now()
	s.events[key] = ev
	return nil
}

func (s *Store) UpdateEvent(_ context.Context, ev *storage.EncryptedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.eventKey(ev.CalendarID, ev.ID)
	if _, exists := s.events[key]; !exists {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "event not found",
		}
	}

	ev.Modified = time.Now()
	s.events[key] = ev
	return nil
}

func (s *Store) GetEvent(_ context.Context, calendarID, eventID string) (*storage.EncryptedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[s.eventKey(calendarID, eventID)]
	if !ok {
		return nil, &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "event not found",
		}
	}
	return ev, nil
}

func (s *Store) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.eventKey(calendarID, eventID)
	if _, exists := s.events[key]; !exists {
		return &storage.Error{
			Type:    storage.ErrNotFound,
			Message: "event not found",
		}
	}
	delete(s.events, key)
	return nil
}

func (s *Store) ListEvents(_ context.Context, calendarID, beginID string, pageSize int) ([]storage.EncryptedEvent, error) {
	if pageSize <= 0 {
		return nil, &storage.Error{
			Type:    storage.ErrInvalidInput,
			Message: fmt.Sprintf("invalid page size %d", pageSize),
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []storage.EncryptedEvent
	for _, ev := range s.events {
		if ev.CalendarID == calendarID && ev.ID > beginID {
			events = append(events, *ev)
		}
	}
	slices.SortFunc(events, func(a, b storage.EncryptedEvent) int {
		return strings.Compare(a.ID, b.ID)
	})
	if len(events) > pageSize {
		events = events[:pageSize]
	}
	return events, nil
}
