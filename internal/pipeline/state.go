package pipeline

import (
	"errors"
	"fmt"

	"github.com/duiduidodge/noon-feed-sub001/internal/storage"
)

var ErrInvalidTransition = errors.New("invalid article status transition")

var transitions = map[storage.Status][]storage.Status{
	storage.StatusPending:  {storage.StatusFetched, storage.StatusFailed},
	storage.StatusFetched:  {storage.StatusEnriched, storage.StatusFailed},
	storage.StatusEnriched: {storage.StatusFetched},
}

// CanTransition reports whether an article may move from one status to another.
// ENRICHED -> FETCHED is the operator reset; FAILED is terminal.
func CanTransition(from, to storage.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to storage.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
