package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parley/internal/domain"
	"parley/internal/state"
	"parley/internal/validate"
)

const defaultRoom = domain.RoomName("general_chat")

type fixture struct {
	transport  *fakeTransport
	store      *fakeStore
	membership *state.Membership
	registry   *state.Registry
	directory  *state.Directory
	coord      *Coordinator
	router     *MessageRouter
}

func newFixture() *fixture {
	transport := newFakeTransport()
	membership := state.NewMembership(nil, defaultRoom)
	registry := state.NewRegistry(nil, transport, defaultRoom, time.Minute)
	directory := state.NewDirectory(nil, defaultRoom)
	store := newFakeStore()
	coord := NewCoordinator(membership, registry, directory, store, transport, validate.TextValidator{}, defaultRoom, 20)
	router := NewMessageRouter(registry, coord, store, transport, validate.TextValidator{})
	return &fixture{
		transport:  transport,
		store:      store,
		membership: membership,
		registry:   registry,
		directory:  directory,
		coord:      coord,
		router:     router,
	}
}

var (
	alice = Identity{ID: 1, Username: "alice"}
	bob   = Identity{ID: 2, Username: "bob"}
)

func TestCoordinator_ConnectJoinsDefaultRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)

	f.coord.Connect(ctx, alice, "h1")

	users := f.coord.CurrentUsers(ctx, defaultRoom)
	require.Equal(t, map[domain.UserID]string{alice.ID: "alice"}, users)
	require.True(t, f.transport.inRoom("h1", defaultRoom))
	require.Equal(t, StateInRoom, f.coord.StateOf(ctx, alice.ID))

	// presence-online went to everyone
	require.NotEmpty(t, f.transport.received("h1", defaultRoom, EvUserStatus))
}

func TestCoordinator_SecondUserSeenByFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)
	f.store.addUser(bob.ID, bob.Username)

	f.coord.Connect(ctx, alice, "h1")
	f.coord.Connect(ctx, bob, "h2")

	users := f.coord.CurrentUsers(ctx, defaultRoom)
	require.Len(t, users, 2)

	joins := f.transport.received("h1", defaultRoom, EvUserJoined)
	require.NotEmpty(t, joins)
	last := joins[len(joins)-1].Payload.(RoomPresenceEvent)
	require.Equal(t, bob.ID, last.UserID)
	require.Equal(t, "bob", last.Username)
}

func TestCoordinator_JoinRoomRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)
	f.coord.Connect(ctx, alice, "h1")

	require.NoError(t, f.coord.JoinRoom(ctx, alice, "h1", "team-x"))
	require.Contains(t, f.coord.CurrentUsers(ctx, "team-x"), alice.ID)
	require.NotContains(t, f.coord.CurrentUsers(ctx, defaultRoom), alice.ID)

	require.NoError(t, f.coord.JoinRoom(ctx, alice, "h1", "team-y"))
	require.Contains(t, f.coord.CurrentUsers(ctx, "team-y"), alice.ID)
	require.NotContains(t, f.coord.CurrentUsers(ctx, "team-x"), alice.ID)

	// team-x emptied out and was reaped; the default room is forever
	rooms := f.coord.RoomList(ctx)
	require.NotContains(t, rooms, "team-x")
	require.Contains(t, rooms, string(defaultRoom))
}

func TestCoordinator_JoinSameRoomIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)
	f.coord.Connect(ctx, alice, "h1")
	require.NoError(t, f.coord.JoinRoom(ctx, alice, "h1", "team-x"))

	before := len(f.transport.emits)
	require.NoError(t, f.coord.JoinRoom(ctx, alice, "h1", "team-x"))

	require.Equal(t, before, len(f.transport.emits))
	require.Contains(t, f.coord.CurrentUsers(ctx, "team-x"), alice.ID)
}

func TestCoordinator_DuplicateConnectionEvictsOld(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)

	f.coord.Connect(ctx, alice, "h1")
	f.coord.Connect(ctx, alice, "h2")

	h, ok := f.registry.GetSocket(ctx, alice.ID)
	require.True(t, ok)
	require.Equal(t, domain.ConnHandle("h2"), h)

	// the old handle was told to disconnect exactly once
	require.Equal(t, []domain.ConnHandle{"h1"}, f.transport.disconnected)

	// never two membership entries for one user
	users := f.coord.CurrentUsers(ctx, defaultRoom)
	require.Equal(t, map[domain.UserID]string{alice.ID: "alice"}, users)
}

func TestCoordinator_StaleDisconnectIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)

	f.coord.Connect(ctx, alice, "h1")
	f.coord.Connect(ctx, alice, "h2")

	// the evicted connection's close event arrives late
	f.coord.Disconnect(ctx, alice, "h1")

	require.Contains(t, f.coord.CurrentUsers(ctx, defaultRoom), alice.ID)
	require.Equal(t, StateInRoom, f.coord.StateOf(ctx, alice.ID))
}

func TestCoordinator_DisconnectReapsCreatedRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)
	f.coord.Connect(ctx, alice, "h1")

	room, err := f.coord.CreateRoom(ctx, alice, "team-x")
	require.NoError(t, err)
	require.Equal(t, domain.RoomName("team-x"), room.Name)
	require.NoError(t, f.coord.JoinRoom(ctx, alice, "h1", "team-x"))

	f.coord.Disconnect(ctx, alice, "h1")

	rooms := f.coord.RoomList(ctx)
	require.NotContains(t, rooms, "team-x")
	require.Contains(t, rooms, string(defaultRoom))
	require.Equal(t, StateDisconnected, f.coord.StateOf(ctx, alice.ID))

	// offline status reached the remaining clients
	statuses := f.transport.received("h9", "", EvUserStatus)
	lastStatus := statuses[len(statuses)-1].Payload.(UserStatusEvent)
	require.False(t, lastStatus.Online)
}

func TestCoordinator_DefaultRoomSurvivesEmptiness(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)

	f.coord.Connect(ctx, alice, "h1")
	f.coord.Disconnect(ctx, alice, "h1")

	require.Empty(t, f.coord.CurrentUsers(ctx, defaultRoom))
	require.Contains(t, f.coord.RoomList(ctx), string(defaultRoom))
}

func TestCoordinator_CreateRoomConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)
	f.store.addUser(bob.ID, bob.Username)

	_, err := f.coord.CreateRoom(ctx, alice, "team-x")
	require.NoError(t, err)

	_, err = f.coord.CreateRoom(ctx, bob, "team-x")
	require.ErrorIs(t, err, ErrRoomExists)

	// the pre-existing room wins: creator is still alice
	info := f.directory.GetInfo(ctx, "team-x")
	require.NotNil(t, info)
	require.Equal(t, alice.ID, info.CreatedBy)
}

func TestCoordinator_CreateRoomValidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.coord.CreateRoom(ctx, alice, "admin")
	require.ErrorIs(t, err, validate.ErrRoomNameReserved)

	_, err = f.coord.CreateRoom(ctx, alice, "x")
	require.ErrorIs(t, err, validate.ErrRoomNameTooShort)
}

func TestCoordinator_HeartbeatKeepsConnectionAlive(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store.addUser(alice.ID, alice.Username)
	f.coord.Connect(ctx, alice, "h1")

	f.coord.Heartbeat(ctx, alice)
	require.NotEqual(t, StateDisconnected, f.coord.StateOf(ctx, alice.ID))
}
