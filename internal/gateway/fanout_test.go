package gateway

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lattice-chat/lattice-gateway/internal/protocol"
)

func TestBulkMessageSendByRole(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	roleID := uuid.New()

	// Scenario 4: R1 = {U1, U2}; U1 holds two sessions, U2 and U3 hold one each.
	r.MemberRoleAdded(u1, roleID)
	r.MemberRoleAdded(u2, roleID)

	user1 := r.GetOrCreateUser(u1)
	r.RegisterSession(user1, &GatewaySession{Token: "s1a", UserID: u1})
	r.RegisterSession(user1, &GatewaySession{Token: "s1b", UserID: u1})
	user2 := r.GetOrCreateUser(u2)
	r.RegisterSession(user2, &GatewaySession{Token: "s2", UserID: u2})
	user3 := r.GetOrCreateUser(u3)
	r.RegisterSession(user3, &GatewaySession{Token: "s3", UserID: u3})

	_, s1aCh := user1.SubscribeInbox()
	_, s1bCh := user1.SubscribeInbox()
	_, s2Ch := user2.SubscribeInbox()
	_, s3Ch := user3.SubscribeInbox()

	bulk, err := NewBulkMessage(r, zerolog.Nop(), protocol.DispatchMessageCreate, map[string]string{"content": "hi"})
	if err != nil {
		t.Fatalf("NewBulkMessage() error = %v", err)
	}
	bulk.Users(u3).Roles(roleID)

	delivered, err := bulk.Send()
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if delivered != 3 {
		t.Errorf("Send() delivered = %d, want 3 (one per recipient user)", delivered)
	}

	// Both of U1's sessions observe the single inbox publish once each (one event, two independent consumers).
	for _, ch := range []<-chan UserEvent{s1aCh, s1bCh} {
		select {
		case ev := <-ch:
			if ev.Name != protocol.DispatchMessageCreate {
				t.Errorf("event name = %s, want %s", ev.Name, protocol.DispatchMessageCreate)
			}
		default:
			t.Error("expected U1's inbox subscriber to receive the event")
		}
	}
	select {
	case <-s2Ch:
	default:
		t.Error("expected U2's inbox subscriber to receive the event")
	}
	select {
	case <-s3Ch:
	default:
		t.Error("expected U3's inbox subscriber to receive the event")
	}
}

func TestBulkMessageSendDeduplicatesExplicitAndRoleRecipients(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	u1 := uuid.New()
	roleID := uuid.New()
	r.MemberRoleAdded(u1, roleID)
	user1 := r.GetOrCreateUser(u1)
	r.RegisterSession(user1, &GatewaySession{Token: "s1", UserID: u1})

	_, inbox := user1.SubscribeInbox()

	bulk, err := NewBulkMessage(r, zerolog.Nop(), protocol.DispatchTypingStart, nil)
	if err != nil {
		t.Fatalf("NewBulkMessage() error = %v", err)
	}
	bulk.Users(u1, u1).Roles(roleID)

	delivered, err := bulk.Send()
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if delivered != 1 {
		t.Errorf("Send() delivered = %d, want 1 (deduplicated)", delivered)
	}

	if len(inbox) != 1 {
		t.Errorf("inbox has %d buffered events, want exactly 1", len(inbox))
	}
}

func TestBulkMessageSendEmptyTargetIsNoop(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	bulk, err := NewBulkMessage(r, zerolog.Nop(), protocol.DispatchTypingStart, nil)
	if err != nil {
		t.Fatalf("NewBulkMessage() error = %v", err)
	}

	delivered, err := bulk.Send()
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if delivered != 0 {
		t.Errorf("Send() delivered = %d, want 0", delivered)
	}
}

func TestBulkMessageSendSkipsDisconnectedRecipients(t *testing.T) {
	t.Parallel()

	r := NewRegistry(4, zerolog.Nop())
	connected := uuid.New()
	disconnected := uuid.New()
	user := r.GetOrCreateUser(connected)
	r.RegisterSession(user, &GatewaySession{Token: "s1", UserID: connected})

	bulk, err := NewBulkMessage(r, zerolog.Nop(), protocol.DispatchTypingStart, nil)
	if err != nil {
		t.Fatalf("NewBulkMessage() error = %v", err)
	}
	bulk.Users(connected, disconnected)

	delivered, err := bulk.Send()
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if delivered != 1 {
		t.Errorf("Send() delivered = %d, want 1 (disconnected user skipped, not an error)", delivered)
	}
}
