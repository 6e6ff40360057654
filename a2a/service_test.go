package a2a

import (
	"testing"

	"github.com/tos-network/tosd/domain/consensus/model/externalapi"
)

type fakeEscrowReader struct {
	byID map[externalapi.DomainHash]*externalapi.EscrowAccount
}

func (f *fakeEscrowReader) Escrow(id *externalapi.DomainHash, _ uint64) (*externalapi.EscrowAccount, error) {
	escrow, ok := f.byID[*id]
	if !ok {
		return nil, nil
	}
	return escrow, nil
}

func (f *fakeEscrowReader) HasEscrow(id *externalapi.DomainHash, _ uint64) (bool, error) {
	_, ok := f.byID[*id]
	return ok, nil
}

type fakeTopoheightSource struct {
	height uint64
}

func (f *fakeTopoheightSource) TopTopoheight() (uint64, bool, error) {
	return f.height, true, nil
}

func newTestService() *Service {
	return NewService(nil, &fakeTopoheightSource{height: 10}, EchoExecutor{}, DefaultConfig(), "http://localhost:8080", "localhost:9090")
}

func textMessage(text string) Message {
	return Message{Parts: []Part{{Kind: PartKindText, Text: text}}}
}

func TestSendMessageCreatesAndCompletesTask(t *testing.T) {
	svc := newTestService()
	resp, err := svc.SendMessage(SendMessageRequest{Message: textMessage("hello")})
	if err != nil {
		t.Fatalf("SendMessage: %+v", err)
	}
	if resp.Task.Status.State != TaskStateCompleted {
		t.Fatalf("expected task completed, got %s", resp.Task.Status.State)
	}
	if len(resp.Task.History) != 2 {
		t.Fatalf("expected 2 history entries (request+reply), got %d", len(resp.Task.History))
	}
	if resp.Task.History[1].Role != RoleAgent {
		t.Fatalf("expected reply role agent, got %s", resp.Task.History[1].Role)
	}
}

func TestSendMessageContinuesExistingTask(t *testing.T) {
	svc := newTestService()
	first, err := svc.SendMessage(SendMessageRequest{Message: textMessage("hello")})
	if err != nil {
		t.Fatalf("SendMessage (first): %+v", err)
	}

	follow := textMessage("follow up")
	follow.TaskID = first.Task.ID
	second, err := svc.SendMessage(SendMessageRequest{Message: follow})
	if err != nil {
		t.Fatalf("SendMessage (second): %+v", err)
	}
	if second.Task.ID != first.Task.ID {
		t.Fatalf("expected same task id, got %s vs %s", second.Task.ID, first.Task.ID)
	}
}

func TestSendMessageRejectsUnknownTaskID(t *testing.T) {
	svc := newTestService()
	msg := textMessage("hello")
	msg.TaskID = "task-does-not-exist"
	_, err := svc.SendMessage(SendMessageRequest{Message: msg})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.(*Error).Code != CodeTaskNotFound {
		t.Fatalf("expected CodeTaskNotFound, got %s", err.(*Error).Code)
	}
}

func TestSendMessageRejectsTooManyParts(t *testing.T) {
	svc := newTestService()
	parts := make([]Part, MaxPartsPerMessage+1)
	for i := range parts {
		parts[i] = Part{Kind: PartKindText, Text: "x"}
	}
	_, err := svc.SendMessage(SendMessageRequest{Message: Message{Parts: parts}})
	if err == nil {
		t.Fatalf("expected error for too many parts")
	}
	if err.(*Error).Code != CodeInvalidParams {
		t.Fatalf("expected CodeInvalidParams, got %s", err.(*Error).Code)
	}
}

func TestSendMessageRejectsSendOnTerminalTask(t *testing.T) {
	svc := newTestService()
	first, err := svc.SendMessage(SendMessageRequest{Message: textMessage("hello")})
	if err != nil {
		t.Fatalf("SendMessage: %+v", err)
	}
	if _, err := svc.CancelTask(first.Task.ID); err != nil {
		t.Fatalf("CancelTask: %+v", err)
	}

	follow := textMessage("too late")
	follow.TaskID = first.Task.ID
	_, err = svc.SendMessage(SendMessageRequest{Message: follow})
	if err == nil {
		t.Fatalf("expected error sending to a canceled task")
	}
	if err.(*Error).Code != CodeUnsupportedOperation {
		t.Fatalf("expected CodeUnsupportedOperation, got %s", err.(*Error).Code)
	}
}

func TestSendMessageWithSettlementAnchorRequiresEscrowReader(t *testing.T) {
	svc := newTestService()
	msg := textMessage("paid task")
	metadata := map[string]any{
		"tosSettlement": map[string]any{
			"escrowHash":   "0x" + hexRepeat("ab", externalapi.DomainHashSize),
			"agentAccount": "aabbcc",
		},
	}
	_, err := svc.SendMessage(SendMessageRequest{Message: msg, Metadata: metadata})
	if err == nil {
		t.Fatalf("expected error: no EscrowReader configured")
	}
	if err.(*Error).Code != CodeTosEscrowFailed {
		t.Fatalf("expected CodeTosEscrowFailed, got %s", err.(*Error).Code)
	}
}

func TestSendMessageWithSettlementAnchorRejectsUnknownEscrowHash(t *testing.T) {
	reader := &fakeEscrowReader{byID: map[externalapi.DomainHash]*externalapi.EscrowAccount{}}
	svc := NewService(reader, &fakeTopoheightSource{height: 10}, EchoExecutor{}, DefaultConfig(), "http://localhost:8080", "localhost:9090")

	msg := textMessage("paid task")
	metadata := map[string]any{
		"tosSettlement": map[string]any{
			"escrowHash":   "0x" + hexRepeat("00", externalapi.DomainHashSize),
			"agentAccount": "aabbcc",
		},
	}
	_, err := svc.SendMessage(SendMessageRequest{Message: msg, Metadata: metadata})
	if err == nil {
		t.Fatalf("expected error: escrow hash not found in reader")
	}
	if err.(*Error).Code != CodeTosEscrowFailed {
		t.Fatalf("expected CodeTosEscrowFailed, got %s", err.(*Error).Code)
	}
}

func hexRepeat(pair string, n int) string {
	out := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		out = append(out, pair...)
	}
	return string(out)
}

func TestCancelTaskRejectsAlreadyTerminal(t *testing.T) {
	svc := newTestService()
	first, err := svc.SendMessage(SendMessageRequest{Message: textMessage("hello")})
	if err != nil {
		t.Fatalf("SendMessage: %+v", err)
	}
	if _, err := svc.CancelTask(first.Task.ID); err != nil {
		t.Fatalf("CancelTask: %+v", err)
	}
	if _, err := svc.CancelTask(first.Task.ID); err == nil {
		t.Fatalf("expected error canceling an already-terminal task")
	}
}

func TestGetTaskReturnsNotFoundForUnknownID(t *testing.T) {
	svc := newTestService()
	if _, err := svc.GetTask("nope"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPushNotificationConfigCRUD(t *testing.T) {
	svc := newTestService()
	resp, err := svc.SendMessage(SendMessageRequest{Message: textMessage("hello")})
	if err != nil {
		t.Fatalf("SendMessage: %+v", err)
	}

	created, err := svc.SetTaskPushNotificationConfig(resp.Task.ID, PushNotificationConfig{URL: "https://example.com/hook"})
	if err != nil {
		t.Fatalf("SetTaskPushNotificationConfig: %+v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated config ID")
	}

	got, err := svc.GetTaskPushNotificationConfig(resp.Task.ID, created.ID)
	if err != nil {
		t.Fatalf("GetTaskPushNotificationConfig: %+v", err)
	}
	if got.URL != "https://example.com/hook" {
		t.Fatalf("unexpected URL: %s", got.URL)
	}

	list, err := svc.ListTaskPushNotificationConfig(resp.Task.ID)
	if err != nil {
		t.Fatalf("ListTaskPushNotificationConfig: %+v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 config, got %d", len(list))
	}

	if err := svc.DeleteTaskPushNotificationConfig(resp.Task.ID, created.ID); err != nil {
		t.Fatalf("DeleteTaskPushNotificationConfig: %+v", err)
	}
	if _, err := svc.GetTaskPushNotificationConfig(resp.Task.ID, created.ID); err == nil {
		t.Fatalf("expected error after delete")
	}
}

func TestPushNotificationConfigEnforcesMaxPerTask(t *testing.T) {
	svc := newTestService()
	resp, err := svc.SendMessage(SendMessageRequest{Message: textMessage("hello")})
	if err != nil {
		t.Fatalf("SendMessage: %+v", err)
	}
	for i := 0; i < MaxPushConfigsPerTask; i++ {
		if _, err := svc.SetTaskPushNotificationConfig(resp.Task.ID, PushNotificationConfig{URL: "https://example.com/hook"}); err != nil {
			t.Fatalf("SetTaskPushNotificationConfig #%d: %+v", i, err)
		}
	}
	if _, err := svc.SetTaskPushNotificationConfig(resp.Task.ID, PushNotificationConfig{URL: "https://example.com/hook"}); err == nil {
		t.Fatalf("expected error exceeding MaxPushConfigsPerTask")
	}
}

func TestSendStreamingMessageEmitsFinalStatus(t *testing.T) {
	svc := newTestService()
	events, err := svc.SendStreamingMessage(SendMessageRequest{Message: textMessage("hello")})
	if err != nil {
		t.Fatalf("SendStreamingMessage: %+v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected at least one event")
	}
	last := events[len(events)-1]
	if last.Kind != StreamEventStatusUpdate || !last.Final {
		t.Fatalf("expected final status update as last event, got %+v", last)
	}
}

func TestGetExtendedAgentCardAdvertisesAllBindings(t *testing.T) {
	svc := newTestService()
	card := svc.GetExtendedAgentCard()
	if len(card.SupportedInterfaces) != 3 {
		t.Fatalf("expected 3 supported interfaces, got %d", len(card.SupportedInterfaces))
	}
	if !card.Capabilities.TosOnChainSettlement {
		t.Fatalf("expected TosOnChainSettlement capability advertised")
	}
}
