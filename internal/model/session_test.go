package model_test

import (
	"testing"

	"koi-service/internal/model"
)

func TestPendingConfirmationsTracksTheFlag(t *testing.T) {
	sess := &model.Session{
		Participants: []model.Participant{
			{ID: "player-1"},
			{ID: "player-2"},
		},
	}

	if got := sess.PendingConfirmations(); len(got) != 0 {
		t.Fatalf("expected no pending confirmations, got %v", got)
	}

	sess.Participant("player-1").RequiresConfirmation = true
	got := sess.PendingConfirmations()
	if len(got) != 1 || got[0] != "player-1" {
		t.Fatalf("expected only the flagged player, got %v", got)
	}

	sess.Participant("player-1").RequiresConfirmation = false
	if got := sess.PendingConfirmations(); len(got) != 0 {
		t.Fatalf("clearing the flag must empty the list, got %v", got)
	}
}
