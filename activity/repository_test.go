package activity

import (
	"context"
	"errors"
	"testing"
)

func TestAppend_RejectsIncompleteEntries(t *testing.T) {
	repo := NewRepository(nil)

	cases := []Entry{
		{EntityID: "e1", Action: ActionStageTransition},
		{EntityType: "engagement", Action: ActionStageTransition},
		{EntityType: "engagement", EntityID: "e1"},
	}
	for _, entry := range cases {
		if err := repo.Append(context.Background(), entry); !errors.Is(err, ErrIncompleteEntry) {
			t.Errorf("entry %+v: expected ErrIncompleteEntry, got %v", entry, err)
		}
	}
}
