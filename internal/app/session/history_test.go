package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"animstream/internal/domain/animation"
)

func TestScenario_MoveRotateResetHistory(t *testing.T) {
	a := newEnv().actor(t)
	addEntity(t, a, "e1")
	ch := connect(t, a, "c1")

	move := moveCmd("e1", 10)
	d := 2000.0
	move.Duration = &d
	send(t, a, ch, MessageAnimationCommand, move)
	if got := payloadAs[animation.Entity](t, ch.last(t, MessageCharacterUpdate)); got.Position != (animation.Vector3{X: 10}) {
		t.Fatalf("after move position=%+v", got.Position)
	}

	send(t, a, ch, MessageAnimationCommand, CommandPayload{CharacterID: "e1", Action: "rotate", Params: map[string]any{"rotation": map[string]any{"y": 90}}})
	if got := payloadAs[animation.Entity](t, ch.last(t, MessageCharacterUpdate)); got.Rotation != (animation.Vector3{Y: 90}) {
		t.Fatalf("after rotate rotation=%+v", got.Rotation)
	}

	send(t, a, ch, MessageAnimationCommand, CommandPayload{CharacterID: "e1", Action: "Reset"})
	got := payloadAs[animation.Entity](t, ch.last(t, MessageCharacterUpdate))
	if got.Position != animation.ZeroVector || got.Rotation != animation.ZeroVector || got.Scale != animation.UnitScale {
		t.Fatalf("after reset entity=%+v", got)
	}

	history := bodyAs[[]animation.Command](t, do(t, a, http.MethodGet, "/history", nil))
	if len(history) != 3 {
		t.Fatalf("history len got=%d want=3", len(history))
	}
	if history[0].Action != "Reset" || history[1].Action != "rotate" || history[2].Action != "move" {
		t.Fatalf("history order got=%s,%s,%s", history[0].Action, history[1].Action, history[2].Action)
	}
	if history[2].Duration == nil || *history[2].Duration != 2000 {
		t.Fatalf("duration not kept: %+v", history[2])
	}

	executed := bodyAs[[]animation.LogEntry](t, do(t, a, http.MethodGet, "/logs?type="+LogCommandExecuted, nil))
	if len(executed) != 3 {
		t.Fatalf("COMMAND_EXECUTED logs got=%d want=3", len(executed))
	}
}

func TestHistory_FilterByEntity(t *testing.T) {
	a := newEnv().actor(t)
	addEntity(t, a, "e1")
	addEntity(t, a, "e2")
	ch := connect(t, a, "c1")
	send(t, a, ch, MessageAnimationCommand, moveCmd("e1", 1))
	send(t, a, ch, MessageAnimationCommand, moveCmd("e2", 1))
	send(t, a, ch, MessageAnimationCommand, moveCmd("e1", 1))

	got := bodyAs[[]animation.Command](t, do(t, a, http.MethodGet, "/history?characterId=e1&limit=1", nil))
	if len(got) != 1 || got[0].EntityID != "e1" {
		t.Fatalf("filtered history got=%+v", got)
	}
}

func TestRingCap_OlderEntriesRemainInArchive(t *testing.T) {
	e := newEnv()
	a := e.actor(t)
	addEntity(t, a, "e1")
	ch := connect(t, a, "c1")

	const total = animation.HistoryCap + 20
	for i := 0; i < total; i++ {
		send(t, a, ch, MessageAnimationCommand, moveCmd("e1", 1))
	}
	a.Flush()

	hot := bodyAs[[]animation.Command](t, do(t, a, http.MethodGet, "/history?limit=500", nil))
	if len(hot) != animation.HistoryCap {
		t.Fatalf("hot history len got=%d want=%d", len(hot), animation.HistoryCap)
	}
	logs := bodyAs[[]animation.LogEntry](t, do(t, a, http.MethodGet, "/logs?limit=500", nil))
	if len(logs) != animation.HistoryCap {
		t.Fatalf("hot logs len got=%d want=%d", len(logs), animation.HistoryCap)
	}
	if e.commands.len() != total {
		t.Fatalf("archived commands got=%d want=%d", e.commands.len(), total)
	}

	archived := bodyAs[[]animation.Command](t, do(t, a, http.MethodGet, "/history?archived=true&limit=200", nil))
	if len(archived) != total {
		t.Fatalf("archived history len got=%d want=%d", len(archived), total)
	}
	oldestHot := hot[len(hot)-1]
	next := archived[animation.HistoryCap]
	if next.Timestamp >= oldestHot.Timestamp {
		t.Fatalf("entry %d should be older than the ring tail: %d >= %d", animation.HistoryCap+1, next.Timestamp, oldestHot.Timestamp)
	}
	for i := 1; i < len(archived); i++ {
		if archived[i-1].Timestamp < archived[i].Timestamp {
			t.Fatalf("archived history not newest first at %d", i)
		}
	}
}

func TestArchivedLogs_FilterByType(t *testing.T) {
	a := newEnv().actor(t)
	connect(t, a, "c1")
	addEntity(t, a, "e1")
	a.Flush()

	got := bodyAs[[]animation.LogEntry](t, do(t, a, http.MethodGet, "/logs?archived=true&type="+LogEntityAdded, nil))
	if len(got) != 1 || got[0].Type != LogEntityAdded {
		t.Fatalf("archived logs got=%+v", got)
	}
}

func TestArchiveFailure_DoesNotAffectHotPath(t *testing.T) {
	e := newEnv()
	var (
		mu     sync.Mutex
		failed []string
	)
	e.deps.OnArchiveError = func(key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, key)
	}
	e.commands.failErr = errBoom
	e.logs.failErr = errBoom

	a := e.actor(t)
	addEntity(t, a, "e1")
	ch := connect(t, a, "c1")
	send(t, a, ch, MessageAnimationCommand, moveCmd("e1", 4))
	a.Flush()

	if got := payloadAs[animation.Entity](t, ch.last(t, MessageCharacterUpdate)); got.Position.X != 4 {
		t.Fatalf("command should apply despite archive failure, got=%+v", got)
	}
	if n := len(ch.ofType(MessageError)); n != 0 {
		t.Fatalf("archive failures must not reach clients")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(failed) == 0 {
		t.Fatalf("expected archive failures to reach the error sink")
	}
	if e.metrics.archiveFailure.Load() != int64(len(failed)) {
		t.Fatalf("archive failure metric got=%d want=%d", e.metrics.archiveFailure.Load(), len(failed))
	}

	_, err := a.Fetch(context.Background(), request(t, http.MethodGet, "/history?archived=true", nil))
	if !errors.Is(err, ErrArchiveRead) {
		t.Fatalf("archived read failure: expected ErrArchiveRead, got %v", err)
	}
}

func TestArchiveKeys(t *testing.T) {
	c := animation.Command{ID: "c9", EntityID: "e1", Timestamp: 1700000000123}
	if got := CommandArchiveKey("s1", c); got != "command:s1:1700000000123:e1:c9" {
		t.Fatalf("command key got=%s", got)
	}
	l := animation.LogEntry{ID: "l1", Timestamp: 42}
	got := LogArchiveKey("s1", l)
	if got != "log:s1:0000000000042:l1" || !strings.HasPrefix(got, logPrefix("s1")) {
		t.Fatalf("log key got=%s", got)
	}
}
