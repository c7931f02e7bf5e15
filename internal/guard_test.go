package internal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubOracle struct {
	members map[int64][]int64
	err     error
}

func (s stubOracle) IsMember(_ context.Context, workspaceID, userID int64) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	for _, id := range s.members[workspaceID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func TestGuard_IsAuthorized(t *testing.T) {
	roster := stubOracle{members: map[int64][]int64{1: {10, 11}, 2: {12}}}
	tests := []struct {
		name      string
		oracle    MembershipOracle
		userID    int64
		workspace int64
		want      bool
	}{
		{name: "member", oracle: roster, userID: 10, workspace: 1, want: true},
		{name: "member of another workspace", oracle: roster, userID: 12, workspace: 1, want: false},
		{name: "nonexistent workspace", oracle: roster, userID: 10, workspace: 99, want: false},
		{name: "lookup error fails closed", oracle: stubOracle{err: errors.New("db gone")}, userID: 10, workspace: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewGuard(tt.oracle, discardLogger())
			got := guard.IsAuthorized(context.Background(), Identity{UserID: tt.userID}, tt.workspace)
			assert.Equal(t, tt.want, got)
		})
	}
}
