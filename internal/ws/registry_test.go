package ws

import (
	"testing"
)

func testRegistry() (*Registry, *[]*fakeEngine) {
	var engines []*fakeEngine
	r := NewRegistry(func(string) Engine {
		e := newFakeEngine()
		engines = append(engines, e)
		return e
	}, nil, nil)
	return r, &engines
}

func TestRegistryConnectCreatesEngineOnce(t *testing.T) {
	r, engines := testRegistry()

	_, eng1, reused := r.Connect("c1", newFakeConn())
	if reused {
		t.Error("first connect reported engine reuse")
	}
	if len(*engines) != 1 {
		t.Fatalf("factory called %d times, want 1", len(*engines))
	}

	// Reconnect with the same id: new connection wrapper, same engine.
	_, eng2, reused := r.Connect("c1", newFakeConn())
	if !reused {
		t.Error("reconnect did not reuse engine")
	}
	if eng1 != eng2 {
		t.Error("reconnect produced a different engine instance")
	}
	if len(*engines) != 1 {
		t.Errorf("factory called %d times after reconnect, want 1", len(*engines))
	}
	if r.Count() != 1 {
		t.Errorf("session count = %d, want 1", r.Count())
	}
}

func TestRegistryReconnectClosesOldConnection(t *testing.T) {
	r, _ := testRegistry()

	oldConn := newFakeConn()
	r.Connect("c1", oldConn)
	newConn := newFakeConn()
	r.Connect("c1", newConn)

	if !oldConn.closed {
		t.Error("old connection left open after replacement")
	}
	if err := r.Send("c1", pongFrame()); err != nil {
		t.Fatalf("Send after reconnect: %v", err)
	}
	if len(newConn.sent()) != 1 {
		t.Errorf("new connection got %d frames, want 1", len(newConn.sent()))
	}
	if got := len(oldConn.sent()); got != 0 {
		t.Errorf("old connection got %d frames, want 0", got)
	}
}

func TestRegistryDisconnectDestroysEngine(t *testing.T) {
	r, engines := testRegistry()

	conn := newFakeConn()
	r.Connect("c1", conn)
	r.Disconnect("c1")

	if !(*engines)[0].isClosed() {
		t.Error("engine not closed on disconnect")
	}
	if !conn.closed {
		t.Error("connection not closed on disconnect")
	}
	if r.Count() != 0 {
		t.Errorf("session count = %d, want 0", r.Count())
	}

	// Connecting again after a full disconnect builds a fresh engine.
	_, _, reused := r.Connect("c1", newFakeConn())
	if reused {
		t.Error("engine survived disconnect")
	}
	if len(*engines) != 2 {
		t.Errorf("factory called %d times, want 2", len(*engines))
	}
}

func TestRegistryStaleTeardownLeavesReplacementAlive(t *testing.T) {
	r, engines := testRegistry()

	first, _, _ := r.Connect("c1", newFakeConn())
	newConn := newFakeConn()
	second, _, _ := r.Connect("c1", newConn)

	// The replaced read loop tears down on its way out. The replacement
	// session and the shared engine must survive.
	r.DisconnectSession(first)

	if r.Count() != 1 {
		t.Fatalf("session count = %d after stale teardown, want 1", r.Count())
	}
	if (*engines)[0].isClosed() {
		t.Error("engine destroyed by stale teardown")
	}
	if newConn.closed {
		t.Error("replacement connection closed by stale teardown")
	}
	if err := r.Send("c1", pongFrame()); err != nil {
		t.Fatalf("Send after stale teardown: %v", err)
	}
	if len(newConn.sent()) != 1 {
		t.Errorf("replacement got %d frames, want 1", len(newConn.sent()))
	}

	// The current session's teardown still runs in full.
	r.DisconnectSession(second)
	if r.Count() != 0 {
		t.Errorf("session count = %d after current teardown, want 0", r.Count())
	}
	if !(*engines)[0].isClosed() {
		t.Error("engine survived current session teardown")
	}
}

func TestRegistrySendUnknownSessionIsNoop(t *testing.T) {
	r, _ := testRegistry()
	if err := r.Send("ghost", pongFrame()); err != nil {
		t.Errorf("Send to unknown session returned %v, want nil", err)
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r, _ := testRegistry()

	conns := map[string]*fakeConn{}
	for _, id := range []string{"a", "b", "c"} {
		conn := newFakeConn()
		conns[id] = conn
		r.Connect(id, conn)
	}

	r.Broadcast(pongFrame(), "b")

	if got := len(conns["a"].sent()); got != 1 {
		t.Errorf("a got %d frames, want 1", got)
	}
	if got := len(conns["b"].sent()); got != 0 {
		t.Errorf("excluded b got %d frames, want 0", got)
	}
	if got := len(conns["c"].sent()); got != 1 {
		t.Errorf("c got %d frames, want 1", got)
	}
}

func TestRegistryBroadcastRemovesFailedSession(t *testing.T) {
	r, _ := testRegistry()

	good := newFakeConn()
	bad := newFakeConn()
	bad.writeErr = errWrite
	r.Connect("good", good)
	r.Connect("bad", bad)

	r.Broadcast(pongFrame(), "")

	if r.Count() != 1 {
		t.Errorf("session count = %d after broadcast failure, want 1", r.Count())
	}
	if got := len(good.sent()); got != 1 {
		t.Errorf("good got %d frames, want 1", got)
	}
}

func TestRegistryUploadedFiles(t *testing.T) {
	r, _ := testRegistry()
	r.Connect("c1", newFakeConn())

	r.AddUploadedFile("c1", FileRecord{FileID: "f1", Name: "a.png"})
	r.AddUploadedFile("c1", FileRecord{FileID: "f2", Name: "b.pdf"})
	// Unknown session: dropped.
	r.AddUploadedFile("ghost", FileRecord{FileID: "f3"})

	files := r.Files("c1")
	if len(files) != 2 || files[0].FileID != "f1" || files[1].FileID != "f2" {
		t.Errorf("files = %+v, want f1 then f2", files)
	}
	if r.Files("ghost") != nil {
		t.Error("unknown session returned files")
	}

	// Disconnect discards the records.
	r.Disconnect("c1")
	if r.Files("c1") != nil {
		t.Error("uploaded files survived disconnect")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r, _ := testRegistry()
	conn := newFakeConn()
	r.Connect("c1", conn)
	_ = r.Send("c1", pongFrame())
	_ = r.Send("c1", pongFrame())

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	if snap[0].ClientID != "c1" || snap[0].MessageCount != 2 {
		t.Errorf("snapshot = %+v, want c1 with 2 messages", snap[0])
	}
}
