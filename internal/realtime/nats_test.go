package realtime

import (
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go"
)

type recordingPublisher struct {
	events []ChangeEvent
}

func (r *recordingPublisher) Publish(ev ChangeEvent) {
	r.events = append(r.events, ev)
}

func TestNATSBridge_RelaysRemoteEvents(t *testing.T) {
	local := &recordingPublisher{}
	b := &NATSBridge{subject: "emergency.changes", origin: "self", local: local}

	remote, _ := json.Marshal(ChangeEvent{Table: TableAlerts, Op: OpInsert, RowID: "a1", Origin: "other"})
	b.handle(&nats.Msg{Subject: b.subject, Data: remote})

	if len(local.events) != 1 {
		t.Fatalf("expected 1 relayed event, got %d", len(local.events))
	}
	if local.events[0].RowID != "a1" || local.events[0].Table != TableAlerts {
		t.Errorf("unexpected relayed event %+v", local.events[0])
	}
}

func TestNATSBridge_SkipsOwnEvents(t *testing.T) {
	local := &recordingPublisher{}
	b := &NATSBridge{subject: "emergency.changes", origin: "self", local: local}

	own, _ := json.Marshal(ChangeEvent{Table: TableClients, Op: OpUpdate, RowID: "c1", Origin: "self"})
	b.handle(&nats.Msg{Subject: b.subject, Data: own})
	b.handle(&nats.Msg{Subject: b.subject, Data: []byte("not json")})

	if len(local.events) != 0 {
		t.Errorf("expected no relayed events, got %d", len(local.events))
	}
}
