package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"parley/internal/domain"
)

const testDefaultRoom = domain.RoomName("general_chat")

func TestMembership_AddUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMembership(nil, testDefaultRoom)

	m.AddUser(ctx, 1, "alice", "team-x")
	once := m.GetRoomUsers(ctx, "team-x")

	m.AddUser(ctx, 1, "alice", "team-x")
	twice := m.GetRoomUsers(ctx, "team-x")

	require.Equal(t, once, twice)
	require.Equal(t, map[domain.UserID]string{1: "alice"}, twice)
}

func TestMembership_RemoveAbsentUserIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMembership(nil, testDefaultRoom)

	m.RemoveUser(ctx, 42, "nowhere")

	require.Empty(t, m.GetRoomUsers(ctx, "nowhere"))
	require.Empty(t, m.GetUserRooms(ctx, 42))
}

func TestMembership_ReverseIndexFollowsMembership(t *testing.T) {
	ctx := context.Background()
	m := NewMembership(nil, testDefaultRoom)

	m.AddUser(ctx, 1, "alice", "team-x")
	m.AddUser(ctx, 1, "alice", "dm_1_2")
	require.Len(t, m.GetUserRooms(ctx, 1), 2)

	m.RemoveUser(ctx, 1, "team-x")
	rooms := m.GetUserRooms(ctx, 1)
	require.Len(t, rooms, 1)
	require.Contains(t, rooms, domain.RoomName("dm_1_2"))
}

func TestMembership_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	m := NewMembership(nil, testDefaultRoom)

	m.AddUser(ctx, 1, "alice", "team-x")
	snap := m.GetRoomUsers(ctx, "team-x")
	snap[2] = "mallory"

	require.Equal(t, map[domain.UserID]string{1: "alice"}, m.GetRoomUsers(ctx, "team-x"))
}

func TestMembership_CleanupRemovesEmptyRoom(t *testing.T) {
	ctx := context.Background()
	m := NewMembership(nil, testDefaultRoom)

	m.AddUser(ctx, 1, "alice", "team-x")
	require.False(t, m.CleanupIfEmpty(ctx, "team-x"))

	m.RemoveUser(ctx, 1, "team-x")
	require.True(t, m.CleanupIfEmpty(ctx, "team-x"))
	require.Empty(t, m.GetRoomUsers(ctx, "team-x"))
}

func TestMembership_CleanupNeverTouchesDefaultRoom(t *testing.T) {
	ctx := context.Background()
	m := NewMembership(nil, testDefaultRoom)

	m.AddUser(ctx, 1, "alice", testDefaultRoom)
	m.RemoveUser(ctx, 1, testDefaultRoom)

	require.False(t, m.CleanupIfEmpty(ctx, testDefaultRoom))
}

func TestMembership_EnsureRoomLocalOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMembership(nil, testDefaultRoom)

	m.EnsureRoom("team-x")
	require.Empty(t, m.GetRoomUsers(ctx, "team-x"))

	// An ensured-but-empty room is still eligible for cleanup.
	require.True(t, m.CleanupIfEmpty(ctx, "team-x"))
}
