package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/presidente/internal/store"
)

const readTimeout = 5 * time.Second

type testServer struct {
	t     *testing.T
	srv   *Server
	http  *httptest.Server
	st    *store.Store
	clock *quartz.Mock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := log.New(io.Discard)
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Seed = 1

	st := store.New(cfg.DataDir, logger)
	clock := quartz.NewMock(t)
	srv := NewServer(cfg, st, clock, logger)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testServer{t: t, srv: srv, http: hs, st: st, clock: clock}
}

// advance moves the mock clock in one-second steps so every timer and
// ticker callback in the window runs to completion.
func (ts *testServer) advance(d time.Duration) {
	ts.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	for elapsed := time.Duration(0); elapsed < d; elapsed += time.Second {
		ts.clock.Advance(time.Second).MustWait(ctx)
	}
}

func (ts *testServer) join(room, name string) string {
	ts.t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/join?room=%s&name=%s", ts.http.URL, room, name))
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	require.Equal(ts.t, http.StatusOK, resp.StatusCode)

	var body struct {
		ID string `json:"id"`
	}
	require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(ts.t, body.ID)
	return body.ID
}

func (ts *testServer) joinError(room, name string) string {
	ts.t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/join?room=%s&name=%s", ts.http.URL, room, name))
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	require.Equal(ts.t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func (ts *testServer) dial(room, id string) *wsClient {
	ts.t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") +
		fmt.Sprintf("/ws?room=%s&id=%s", room, id)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(ts.t, err)
	c := &wsClient{t: ts.t, id: id, ws: ws}
	ts.t.Cleanup(func() { _ = ws.Close() })
	return c
}

// connect joins the lobby and opens a socket, consuming the initial state
func (ts *testServer) connect(room, name string) *wsClient {
	ts.t.Helper()
	id := ts.join(room, name)
	c := ts.dial(room, id)
	c.expect(MsgState)
	return c
}

type wsClient struct {
	t  *testing.T
	id string
	ws *websocket.Conn

	sawGameOver bool
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(v))
}

func (c *wsClient) readRaw() map[string]json.RawMessage {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err, "reading frame for %s", c.id)

	var frame map[string]json.RawMessage
	require.NoError(c.t, json.Unmarshal(data, &frame))
	return frame
}

func frameType(frame map[string]json.RawMessage) string {
	var t string
	_ = json.Unmarshal(frame["type"], &t)
	return t
}

// expect reads frames until one of the wanted type arrives, skipping
// everything else but remembering a game_over on the way past.
func (c *wsClient) expect(msgType string) map[string]json.RawMessage {
	c.t.Helper()
	for i := 0; i < 100; i++ {
		frame := c.readRaw()
		got := frameType(frame)
		if got == MsgGameOver {
			c.sawGameOver = true
		}
		if got == msgType {
			return frame
		}
	}
	c.t.Fatalf("gave up waiting for %q frame for %s", msgType, c.id)
	return nil
}

func (c *wsClient) nextState() gameStateView {
	c.t.Helper()
	frame := c.expect(MsgState)
	var state gameStateView
	require.NoError(c.t, json.Unmarshal(frame["state"], &state))
	return state
}

// stateWhere reads states until one satisfies pred
func (c *wsClient) stateWhere(pred func(gameStateView) bool) gameStateView {
	c.t.Helper()
	for i := 0; i < 100; i++ {
		state := c.nextState()
		if pred(state) {
			return state
		}
	}
	c.t.Fatalf("no matching state arrived for %s", c.id)
	return gameStateView{}
}

func (c *wsClient) expectError(message string) {
	c.t.Helper()
	frame := c.expect(MsgError)
	var got string
	require.NoError(c.t, json.Unmarshal(frame["message"], &got))
	assert.Equal(c.t, message, got)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJoinEndpoint(t *testing.T) {
	ts := newTestServer(t)

	id := ts.join("testroom", "alice")
	assert.Equal(t, id, ts.join("testroom", "alice"), "joining twice with the same name is idempotent")
	assert.NotEqual(t, id, ts.join("testroom", "bob"))

	assert.Equal(t, "Missing room", ts.joinError("", "alice"))
	assert.Equal(t, "Room name may only contain letters, numbers, hyphens, and underscores",
		ts.joinError("bad!room", "alice"))
	assert.Equal(t, "Room name must be 20 characters or less",
		ts.joinError(strings.Repeat("a", 21), "alice"))
	assert.Equal(t, "Name must be 20 characters or less",
		ts.joinError("testroom", strings.Repeat("b", 21)))
}

func TestJoinDefaultsPlayerName(t *testing.T) {
	ts := newTestServer(t)
	id := ts.join("testroom", "")
	c := ts.dial("testroom", id)
	state := c.nextState()
	require.Len(t, state.Players, 1)
	assert.Equal(t, "Player", state.Players[0].Name)
}

func TestWebSocketRejectsUnknownRoom(t *testing.T) {
	ts := newTestServer(t)
	c := ts.dial("ghost", "whatever")
	c.expectError("Room not found")
}

func TestWebSocketRejectsUnknownPlayer(t *testing.T) {
	ts := newTestServer(t)
	ts.join("testroom", "alice")
	c := ts.dial("testroom", "bogus-id")
	c.expectError("Unknown player; join from lobby first")
}

func TestWebSocketRejectsDuplicateID(t *testing.T) {
	ts := newTestServer(t)
	id := ts.join("testroom", "alice")
	ts.dial("testroom", id).expect(MsgState)

	dup := ts.dial("testroom", id)
	dup.expectError("Id already in use")
}

func TestLobbyStateOnConnect(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")

	b := ts.connect("testroom", "bob")
	_ = b

	// alice sees bob arrive
	a.expect(MsgPlayerJoined)
	state := a.stateWhere(func(s gameStateView) bool { return len(s.Players) == 2 })
	assert.Equal(t, "no_game", state.Phase)
}

func TestStartGameDealsAndHidesHands(t *testing.T) {
	ts := newTestServer(t)
	clients := []*wsClient{
		ts.connect("testroom", "p0"),
		ts.connect("testroom", "p1"),
		ts.connect("testroom", "p2"),
	}
	for _, c := range clients {
		drainSetupFrames(c)
	}

	clients[0].send(map[string]string{"type": CmdStartGame})

	for _, c := range clients {
		frame := c.expect(MsgState)
		var state struct {
			Phase   string `json:"phase"`
			Players []map[string]json.RawMessage
		}
		require.NoError(t, json.Unmarshal(frame["state"], &state))
		require.Equal(t, "Playing", state.Phase)
		require.Len(t, state.Players, 3)

		// only the recipient's own entry carries a hand
		withHand := 0
		for _, p := range state.Players {
			if _, ok := p["hand"]; ok {
				withHand++
				var id string
				require.NoError(t, json.Unmarshal(p["id"], &id))
				assert.Equal(t, c.id, id, "hand leaked to another player's entry")
			}
		}
		assert.Equal(t, 1, withHand)
	}
}

// drainSetupFrames eats the joined/state chatter produced while other
// players connect, leaving the stream quiet.
func drainSetupFrames(c *wsClient) {
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if _, _, err := c.ws.ReadMessage(); err != nil {
			break
		}
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
}

func TestStartGameRequiresTwoPlayers(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")
	a.send(map[string]string{"type": CmdStartGame})
	a.expectError("Need at least 2 players")
}

func TestFullGameOverWebSocket(t *testing.T) {
	ts := newTestServer(t)
	clients := []*wsClient{
		ts.connect("duel", "p0"),
		ts.connect("duel", "p1"),
	}
	for _, c := range clients {
		drainSetupFrames(c)
	}
	clients[0].send(map[string]string{"type": CmdStartGame})

	latest := make(map[*wsClient]gameStateView, len(clients))
	for _, c := range clients {
		latest[c] = c.nextState()
	}

	byID := func(id string) *wsClient {
		for _, c := range clients {
			if c.id == id {
				return c
			}
		}
		t.Fatalf("no client with id %s", id)
		return nil
	}

	for step := 0; step < 400; step++ {
		ref := latest[clients[0]]
		require.Equal(t, "Playing", ref.Phase)
		actor := byID(ref.Players[ref.CurrentPlayerIdx].ID)

		if plays := latest[actor].ValidPlays; len(plays) > 0 {
			actor.send(map[string]any{"type": CmdPlay, "cards": plays[0]})
		} else {
			actor.send(map[string]string{"type": CmdPass})
		}

		for _, c := range clients {
			latest[c] = c.nextState()
		}
		if clients[0].sawGameOver {
			break
		}
	}

	require.True(t, clients[0].sawGameOver, "game did not finish")
	final := latest[clients[0]]
	assert.Len(t, final.Results, 2)
	assert.NotEqual(t, final.Results[0], final.Results[1])
}

func TestRestartVotePassesWithMajority(t *testing.T) {
	ts := newTestServer(t)
	clients := []*wsClient{
		ts.connect("testroom", "p0"),
		ts.connect("testroom", "p1"),
		ts.connect("testroom", "p2"),
	}
	for _, c := range clients {
		drainSetupFrames(c)
	}
	clients[0].send(map[string]string{"type": CmdStartGame})
	for _, c := range clients {
		c.nextState()
	}

	clients[0].send(map[string]string{"type": CmdRequestRestartVote})
	for _, c := range clients[1:] {
		frame := c.expect(MsgRestartVoteRequested)
		var initiator string
		require.NoError(t, json.Unmarshal(frame["initiator_name"], &initiator))
		assert.Equal(t, "p0", initiator)
	}

	// initiator's yes plus one more reaches the 3-player majority of 2
	clients[1].send(map[string]string{"type": CmdRestartVote, "vote": "yes"})

	for _, c := range clients {
		c.expect(MsgRestartVotePassed)
		state := c.nextState()
		assert.Equal(t, "Playing", state.Phase)
		assert.Equal(t, 0, state.RoundsCompleted)
		assert.Empty(t, state.Results)
		for _, p := range state.Players {
			assert.Equal(t, "Pleb", string(p.PastAccolade), "restart wipes accolades")
		}
	}
}

func TestRestartVoteRejectedByNoVotes(t *testing.T) {
	ts := newTestServer(t)
	clients := []*wsClient{
		ts.connect("testroom", "p0"),
		ts.connect("testroom", "p1"),
		ts.connect("testroom", "p2"),
	}
	for _, c := range clients {
		drainSetupFrames(c)
	}
	clients[0].send(map[string]string{"type": CmdStartGame})
	for _, c := range clients {
		c.nextState()
	}

	clients[0].send(map[string]string{"type": CmdRequestRestartVote})
	for _, c := range clients[1:] {
		c.expect(MsgRestartVoteRequested)
	}

	// 2 of 3 against makes the needed majority of 2 unreachable
	clients[1].send(map[string]string{"type": CmdRestartVote, "vote": "no"})
	clients[2].send(map[string]string{"type": CmdRestartVote, "vote": "no"})

	for _, c := range clients {
		c.expect(MsgRestartVoteRejected)
	}
}

func TestRestartVoteRequestNotEchoedToInitiator(t *testing.T) {
	ts := newTestServer(t)
	clients := []*wsClient{
		ts.connect("testroom", "p0"),
		ts.connect("testroom", "p1"),
		ts.connect("testroom", "p2"),
	}
	for _, c := range clients {
		drainSetupFrames(c)
	}
	clients[0].send(map[string]string{"type": CmdStartGame})
	for _, c := range clients {
		c.nextState()
	}

	clients[0].send(map[string]string{"type": CmdRequestRestartVote})
	for _, c := range clients[1:] {
		c.expect(MsgRestartVoteRequested)
	}

	// The initiator already knows about the vote; their stream stays free of
	// the prompt frame all the way through resolution.
	clients[1].send(map[string]string{"type": CmdRestartVote, "vote": "yes"})
	for i := 0; i < 100; i++ {
		frame := clients[0].readRaw()
		got := frameType(frame)
		require.NotEqual(t, MsgRestartVoteRequested, got, "initiator received their own vote prompt")
		if got == MsgRestartVotePassed {
			return
		}
	}
	t.Fatal("vote never resolved for the initiator")
}

func TestRestartVoteSupersedesPrior(t *testing.T) {
	ts := newTestServer(t)
	clients := []*wsClient{
		ts.connect("testroom", "p0"),
		ts.connect("testroom", "p1"),
		ts.connect("testroom", "p2"),
	}
	for _, c := range clients {
		drainSetupFrames(c)
	}
	clients[0].send(map[string]string{"type": CmdStartGame})
	for _, c := range clients {
		c.nextState()
	}

	clients[0].send(map[string]string{"type": CmdRequestRestartVote})
	for _, c := range clients[1:] {
		c.expect(MsgRestartVoteRequested)
	}

	// A fresh request replaces the open vote, discarding p0's ballot.
	clients[1].send(map[string]string{"type": CmdRequestRestartVote})
	for _, c := range []*wsClient{clients[0], clients[2]} {
		frame := c.expect(MsgRestartVoteRequested)
		var initiator string
		require.NoError(t, json.Unmarshal(frame["initiator_name"], &initiator))
		assert.Equal(t, "p1", initiator)
	}

	clients[2].send(map[string]string{"type": CmdRestartVote, "vote": "yes"})
	for _, c := range clients {
		c.expect(MsgRestartVotePassed)
	}
}

func TestRestartVoteTimesOutAsRejection(t *testing.T) {
	ts := newTestServer(t)
	clients := []*wsClient{
		ts.connect("testroom", "p0"),
		ts.connect("testroom", "p1"),
		ts.connect("testroom", "p2"),
	}
	for _, c := range clients {
		drainSetupFrames(c)
	}
	clients[0].send(map[string]string{"type": CmdStartGame})
	for _, c := range clients {
		c.nextState()
	}

	clients[0].send(map[string]string{"type": CmdRequestRestartVote})
	for _, c := range clients[1:] {
		c.expect(MsgRestartVoteRequested)
	}

	// Nobody else votes; the window closes and missing ballots count as no.
	ts.advance(restartVoteWindow + time.Second)
	clients[0].expect(MsgRestartVoteRejected)
}

func TestVoteRequiresActiveGame(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")
	a.send(map[string]string{"type": CmdRequestRestartVote})
	a.expectError("No game in progress")

	a.send(map[string]string{"type": CmdRestartVote, "vote": "yes"})
	a.expectError("No restart vote in progress")
}

func TestDisconnectGraceEvictsPlayer(t *testing.T) {
	ts := newTestServer(t)
	clients := []*wsClient{
		ts.connect("testroom", "p0"),
		ts.connect("testroom", "p1"),
		ts.connect("testroom", "p2"),
	}
	for _, c := range clients {
		drainSetupFrames(c)
	}
	clients[0].send(map[string]string{"type": CmdStartGame})
	for _, c := range clients {
		c.nextState()
	}

	require.NoError(t, clients[2].ws.Close())
	clients[0].expect(MsgPlayerDisconnected)

	// The reconnect window passes without any sign of p2.
	ts.advance(disconnectGrace + 2*time.Second)

	state := clients[0].stateWhere(func(s gameStateView) bool {
		return len(s.Players) == 2
	})
	for _, p := range state.Players {
		assert.NotEqual(t, clients[2].id, p.ID)
	}
}

func TestReconnectCancelsGrace(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("duo", "alice")
	b := ts.connect("duo", "bob")
	drainSetupFrames(a)
	drainSetupFrames(b)

	a.send(map[string]string{"type": CmdStartGame})
	a.nextState()
	b.nextState()

	require.NoError(t, b.ws.Close())
	a.expect(MsgPlayerDisconnected)
	a.stateWhere(func(s gameStateView) bool {
		for _, p := range s.Players {
			if p.ID == b.id {
				return p.Disconnected
			}
		}
		return false
	})

	// Bob comes back on the same id before the grace period runs out.
	b2 := ts.dial("duo", b.id)
	state := b2.nextState()
	assert.Equal(t, "Playing", state.Phase)
	require.Len(t, state.Players, 2)

	a.stateWhere(func(s gameStateView) bool {
		for _, p := range s.Players {
			if p.Disconnected {
				return false
			}
		}
		return true
	})
}

func TestLobbyDisconnectRemovesImmediately(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")
	b := ts.connect("testroom", "bob")
	_ = b
	drainSetupFrames(a)

	require.NoError(t, b.ws.Close())
	state := a.stateWhere(func(s gameStateView) bool { return len(s.Players) == 1 })
	assert.Equal(t, "no_game", state.Phase)
}

func TestLeaveAcknowledgedAndRoomUpdated(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")
	b := ts.connect("testroom", "bob")
	drainSetupFrames(a)

	b.send(map[string]string{"type": CmdLeave})
	b.expect(MsgYouLeft)

	a.stateWhere(func(s gameStateView) bool { return len(s.Players) == 1 })

	room := ts.st.Load("testroom")
	require.Len(t, room.Players, 1)
	assert.Equal(t, "alice", room.Players[0].Name)
}

func TestRoomResetsWhenLastPlayerLeaves(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("solo", "alice")
	a.send(map[string]string{"type": CmdLeave})
	a.expect(MsgYouLeft)

	// The blob is reinitialized, not deleted.
	require.Eventually(t, func() bool {
		return ts.st.Exists("solo") && len(ts.st.Load("solo").Players) == 0
	}, readTimeout, 10*time.Millisecond)
}

func TestDickTagLifecycle(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")
	b := ts.connect("testroom", "bob")
	c := ts.connect("testroom", "carol")
	for _, cl := range []*wsClient{a, b, c} {
		drainSetupFrames(cl)
	}

	// free assignment when nobody holds the tag
	a.send(map[string]string{"type": CmdTagDick, "target_player_id": b.id})
	b.stateWhere(func(s gameStateView) bool { return s.DickTaggedPlayerID == b.id })

	// only the holder may pass it, and only after the cooldown
	a.send(map[string]string{"type": CmdTagDick, "target_player_id": c.id})
	a.expectError("Only the current holder can pass the plant")

	b.send(map[string]string{"type": CmdTagDick, "target_player_id": c.id})
	b.expectError("Wait 15s before passing the plant")

	ts.advance(dickTagCooldown + time.Second)
	b.send(map[string]string{"type": CmdTagDick, "target_player_id": c.id})
	b.stateWhere(func(s gameStateView) bool { return s.DickTaggedPlayerID == c.id })

	// the holder may clear it from themselves at any time
	c.send(map[string]string{"type": CmdTagDick, "target_player_id": c.id})
	c.stateWhere(func(s gameStateView) bool { return s.DickTaggedPlayerID == "" })
}

func TestDickTagValidation(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")
	b := ts.connect("testroom", "bob")
	_ = b
	drainSetupFrames(a)

	a.send(map[string]string{"type": CmdTagDick})
	a.expectError("No target player specified")

	a.send(map[string]string{"type": CmdTagDick, "target_player_id": a.id})
	a.expectError("Cannot tag yourself")

	a.send(map[string]string{"type": CmdTagDick, "target_player_id": "nobody"})
	a.expectError("Player not in room")
}

func TestSpectatorViewAndPreference(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")
	b := ts.connect("testroom", "bob")
	drainSetupFrames(a)
	drainSetupFrames(b)

	a.send(map[string]string{"type": CmdStartGame})
	a.nextState()
	b.nextState()

	// carol joins mid-game and can only watch
	carol := ts.join("testroom", "carol")
	cw := ts.dial("testroom", carol)
	state := cw.nextState()
	assert.True(t, state.Spectator)
	require.NotNil(t, state.WantsToPlay)
	assert.True(t, *state.WantsToPlay, "spectators default to wanting in")
	for _, p := range state.Players {
		assert.Nil(t, p.Hand, "spectator must not see hands")
	}

	cw.send(map[string]any{"type": CmdSpectatorPreference, "want_to_play": false})
	state = cw.stateWhere(func(s gameStateView) bool {
		return s.WantsToPlay != nil && !*s.WantsToPlay
	})
	assert.True(t, state.Spectator)
}

func TestStateRequestReturnsSnapshot(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")
	a.send(map[string]string{"type": CmdStateRequest})
	state := a.nextState()
	assert.Equal(t, "no_game", state.Phase)
}

func TestUnknownCommandRejected(t *testing.T) {
	ts := newTestServer(t)
	a := ts.connect("testroom", "alice")
	a.send(map[string]string{"type": "juggle"})
	a.expectError("Unknown command: juggle")
}

func TestRoomPersistsAcrossServers(t *testing.T) {
	logger := log.New(io.Discard)
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Seed = 1
	st := store.New(cfg.DataDir, logger)

	ts1 := &testServer{t: t, st: st, clock: quartz.NewMock(t)}
	ts1.srv = NewServer(cfg, st, ts1.clock, logger)
	ts1.http = httptest.NewServer(ts1.srv.Handler())
	id := ts1.join("durable", "alice")
	ts1.http.Close()

	// A fresh server over the same data directory still knows alice.
	ts2 := &testServer{t: t, st: st, clock: quartz.NewMock(t)}
	ts2.srv = NewServer(cfg, st, ts2.clock, logger)
	ts2.http = httptest.NewServer(ts2.srv.Handler())
	defer ts2.http.Close()

	c := ts2.dial("durable", id)
	state := c.nextState()
	require.Len(t, state.Players, 1)
	assert.Equal(t, "alice", state.Players[0].Name)
}
