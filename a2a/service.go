package a2a

import (
	"time"

	"github.com/google/uuid"
)

// TopoheightSource is the narrow view of chain tip a Service needs to
// validate settlement anchors and timeouts against. consensus.Processor
// satisfies this already.
type TopoheightSource interface {
	TopTopoheight() (uint64, bool, error)
}

// TaskExecutor does the actual agent work behind a Task once
// SendMessage admits it. original_source wires a concrete
// executor/router_executor pair that dispatches to registered agent
// skills; that dispatch table is this daemon's integration point, not
// something SPEC_FULL.md's bridge package defines itself, so it's left
// as a caller-supplied interface. EchoExecutor below is the only
// implementation this package carries, used by tests and as a
// functioning (if trivial) default for a daemon with no registered
// skills yet.
type TaskExecutor interface {
	// Execute runs message against task and returns the assistant's
	// reply plus any artifacts it produced.
	Execute(task *Task, message *Message) (reply Message, artifacts []Artifact, err error)
}

// EchoExecutor immediately completes a task by echoing its input
// message back as the assistant's reply. It is the simplest executor
// that satisfies TaskExecutor's contract and is not meant to model any
// particular agent's behavior.
type EchoExecutor struct{}

// Execute implements TaskExecutor.
func (EchoExecutor) Execute(_ *Task, message *Message) (Message, []Artifact, error) {
	reply := Message{
		ID:        uuid.NewString(),
		Role:      RoleAgent,
		Parts:     message.Parts,
		TaskID:    message.TaskID,
		ContextID: message.ContextID,
	}
	return reply, nil, nil
}

// Config tunes a Service beyond its executor/chain dependencies.
type Config struct {
	Settlement SettlementValidationConfig
}

// DefaultConfig returns Config{Settlement: DefaultSettlementValidationConfig()}.
func DefaultConfig() Config {
	return Config{Settlement: DefaultSettlementValidationConfig()}
}

// Service implements the A2A bridge's core operations (spec.md §4.10):
// SendMessage, SendStreamingMessage, GetTask, CancelTask,
// SubscribeToTask, push-notification CRUD, and agent-card queries.
// Grounded on original_source/daemon/src/a2a/mod.rs's A2ADaemonService,
// with its tokio-spawned non-blocking execution path dropped: every
// SendMessage call here runs its executor synchronously, since this
// package has no async runtime to hand the work off to (the teacher's
// own flow-processing loops are likewise synchronous per-goroutine, not
// background-task-pool dispatched).
type Service struct {
	escrows    EscrowReader
	chainTip   TopoheightSource
	executor   TaskExecutor
	store      *taskStore
	config     Config
	agentCard  AgentCard
}

// NewService constructs a Service. publicURL/grpcURL back
// AgentCard.SupportedInterfaces, sourced by the caller (cmd/tosd) from
// the TOS_A2A_PUBLIC_URL/TOS_A2A_GRPC_URL environment overrides spec.md
// §6 names.
func NewService(escrows EscrowReader, chainTip TopoheightSource, executor TaskExecutor, config Config, publicURL, grpcURL string) *Service {
	return &Service{
		escrows:  escrows,
		chainTip: chainTip,
		executor: executor,
		store:    newTaskStore(),
		config:   config,
		agentCard: AgentCard{
			ProtocolVersion: "1.0",
			Name:            "TOS A2A Service",
			Description:     "TOS A2A bridge service",
			Version:         "1.0",
			SupportedInterfaces: []AgentInterface{
				{URL: publicURL + "/json_rpc", ProtocolBinding: "JSONRPC"},
				{URL: publicURL + "/message:send", ProtocolBinding: "HTTP+JSON"},
				{URL: grpcURL, ProtocolBinding: "GRPC"},
			},
			Provider: AgentProvider{URL: "https://tos.network", Organization: "TOS Network"},
			Capabilities: AgentCapabilities{
				Streaming:              true,
				PushNotifications:      true,
				StateTransitionHistory: true,
				TosOnChainSettlement:   true,
			},
			DefaultInputModes:  []string{"text/plain", "application/json"},
			DefaultOutputModes: []string{"text/plain", "application/json"},
		},
	}
}

func now() *time.Time {
	t := time.Now().UTC()
	return &t
}

func validateMessageLimits(message *Message) error {
	if len(message.Parts) > MaxPartsPerMessage {
		return invalidParams("message has %d parts, maximum is %d", len(message.Parts), MaxPartsPerMessage)
	}
	for _, part := range message.Parts {
		switch part.Kind {
		case PartKindText:
			if len(part.Text) > MaxTextPartBytes {
				return invalidParams("text part is %d bytes, maximum is %d", len(part.Text), MaxTextPartBytes)
			}
		case PartKindFile:
			if len(part.FileData) > MaxFileInlineBytes {
				return invalidParams("inline file part is %d bytes, maximum is %d", len(part.FileData), MaxFileInlineBytes)
			}
		case PartKindData:
			if len(part.Data) > MaxDataPartBytes {
				return invalidParams("data part has %d bytes, maximum is %d", len(part.Data), MaxDataPartBytes)
			}
		}
	}
	if len(message.Metadata) > MaxMetadataKeys {
		return invalidParams("message has %d metadata keys, maximum is %d", len(message.Metadata), MaxMetadataKeys)
	}
	return nil
}

func checkHistoryLimit(task *Task) error {
	if len(task.History) >= MaxHistoryLength {
		return invalidParams("task history has %d messages, maximum is %d", len(task.History), MaxHistoryLength)
	}
	return nil
}

func (s *Service) topoheight() uint64 {
	if s.chainTip == nil {
		return 0
	}
	height, found, err := s.chainTip.TopTopoheight()
	if err != nil || !found {
		return 0
	}
	return height
}

func (s *Service) validateSettlementAnchor(taskID string, metadata map[string]any) (*TosTaskAnchor, error) {
	if s.escrows == nil {
		anchor, err := parseSettlementAnchor(metadata)
		if err != nil {
			return nil, err
		}
		if anchor != nil {
			return nil, tosEscrowFailed("escrow validation unavailable: no chain state configured")
		}
		return nil, nil
	}
	anchor, err := fetchAndValidateSettlementAnchor(s.escrows, taskID, metadata, s.topoheight(), s.config.Settlement)
	if err != nil {
		return nil, err
	}
	return anchor, nil
}

// SendMessage implements spec.md §4.10's SendMessage: it either
// continues an existing task (message.TaskID set) or creates a new one
// (validating its settlement anchor, if any), runs the executor
// synchronously, and returns the resulting task.
func (s *Service) SendMessage(req SendMessageRequest) (*SendMessageResponse, error) {
	message := req.Message
	if err := validateMessageLimits(&message); err != nil {
		return nil, err
	}
	if len(req.Metadata) > MaxMetadataKeys {
		return nil, invalidParams("request has %d metadata keys, maximum is %d", len(req.Metadata), MaxMetadataKeys)
	}

	var task *Task
	if message.TaskID != "" {
		existing, ok := s.store.getTask(message.TaskID)
		if !ok {
			return nil, taskNotFound(message.TaskID)
		}
		if message.ContextID != "" && message.ContextID != existing.ContextID {
			return nil, invalidParams("context_id does not match task")
		}
		task = existing
	} else {
		taskID := "task-" + uuid.NewString()
		contextID := message.ContextID
		if contextID == "" {
			contextID = "ctx-" + uuid.NewString()
		}
		anchor, err := s.validateSettlementAnchor(taskID, req.Metadata)
		if err != nil {
			return nil, err
		}
		task = &Task{
			ID:            taskID,
			ContextID:     contextID,
			Status:        TaskStatus{State: TaskStateSubmitted, Timestamp: now()},
			Metadata:      req.Metadata,
			TosTaskAnchor: anchor,
		}
	}

	message.TaskID = task.ID
	message.ContextID = task.ContextID
	if message.Role == RoleUnspecified {
		message.Role = RoleUser
	}

	if task.Status.State.IsTerminal() {
		return nil, unsupportedOperation("task is in a terminal state")
	}
	if err := checkHistoryLimit(task); err != nil {
		return nil, err
	}
	task.History = append(task.History, message)
	task.Status = TaskStatus{State: TaskStateWorking, Timestamp: now()}
	s.store.putTask(task)

	if req.Configuration != nil && req.Configuration.PushNotificationConfig != nil {
		config := *req.Configuration.PushNotificationConfig
		if config.ID == "" {
			config.ID = uuid.NewString()
		}
		if err := s.store.setPushConfig(task.ID, &config); err != nil {
			return nil, err
		}
	}

	executor := s.executor
	if executor == nil {
		executor = EchoExecutor{}
	}
	reply, artifacts, err := executor.Execute(task, &message)
	if err != nil {
		task.Status = TaskStatus{State: TaskStateFailed, Timestamp: now()}
		s.store.putTask(task)
		return nil, internalError("executor failed: %s", err)
	}

	if err := checkHistoryLimit(task); err != nil {
		return nil, err
	}
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	reply.Role = RoleAgent
	reply.TaskID = task.ID
	reply.ContextID = task.ContextID
	task.History = append(task.History, reply)

	if len(task.Artifacts)+len(artifacts) > MaxArtifactsPerTask {
		return nil, invalidParams("task would have %d artifacts, maximum is %d", len(task.Artifacts)+len(artifacts), MaxArtifactsPerTask)
	}
	task.Artifacts = append(task.Artifacts, artifacts...)
	task.Status = TaskStatus{State: TaskStateCompleted, Message: &reply, Timestamp: now()}
	s.store.putTask(task)

	if req.Configuration != nil && req.Configuration.HistoryLength != nil {
		limit := *req.Configuration.HistoryLength
		if limit < 0 {
			limit = 0
		}
		if len(task.History) > limit {
			task.History = task.History[len(task.History)-limit:]
		}
	}

	return &SendMessageResponse{Task: task}, nil
}

// SendStreamingMessage runs SendMessage and projects the resulting
// state transitions and artifacts as a finite sequence of StreamEvents,
// matching original_source's own stream::Iter (a precomputed iterator,
// not a live push subscription).
func (s *Service) SendStreamingMessage(req SendMessageRequest) ([]StreamEvent, error) {
	resp, err := s.SendMessage(req)
	if err != nil {
		return nil, err
	}
	return taskEvents(resp.Task), nil
}

func taskEvents(task *Task) []StreamEvent {
	events := make([]StreamEvent, 0, len(task.Artifacts)+1)
	for i := range task.Artifacts {
		events = append(events, StreamEvent{
			Kind:      StreamEventArtifactUpdate,
			TaskID:    task.ID,
			ContextID: task.ContextID,
			Artifact:  &task.Artifacts[i],
		})
	}
	status := task.Status
	// The status update closes the stream once the current turn has
	// finished (Completed) or the task can take no further messages.
	events = append(events, StreamEvent{
		Kind:      StreamEventStatusUpdate,
		TaskID:    task.ID,
		ContextID: task.ContextID,
		Status:    &status,
		Final:     task.Status.State.IsTerminal() || task.Status.State == TaskStateCompleted,
	})
	return events
}

// GetTask returns the task registered under taskID.
func (s *Service) GetTask(taskID string) (*Task, error) {
	task, ok := s.store.getTask(taskID)
	if !ok {
		return nil, taskNotFound(taskID)
	}
	return task, nil
}

// CancelTask moves a non-terminal task to Canceled.
func (s *Service) CancelTask(taskID string) (*Task, error) {
	task, ok := s.store.getTask(taskID)
	if !ok {
		return nil, taskNotFound(taskID)
	}
	if task.Status.State.IsTerminal() {
		return nil, unsupportedOperation("task is already in a terminal state")
	}
	task.Status = TaskStatus{State: TaskStateCanceled, Timestamp: now()}
	s.store.putTask(task)
	return task, nil
}

// SubscribeToTask returns the current status (and, if present, every
// artifact) of taskID as a finite event sequence, for a caller that
// missed the original SendStreamingMessage call.
func (s *Service) SubscribeToTask(taskID string) ([]StreamEvent, error) {
	task, ok := s.store.getTask(taskID)
	if !ok {
		return nil, taskNotFound(taskID)
	}
	return taskEvents(task), nil
}

// SetTaskPushNotificationConfig registers or replaces a push config for
// taskID.
func (s *Service) SetTaskPushNotificationConfig(taskID string, config PushNotificationConfig) (*PushNotificationConfig, error) {
	if _, ok := s.store.getTask(taskID); !ok {
		return nil, taskNotFound(taskID)
	}
	if config.ID == "" {
		config.ID = uuid.NewString()
	}
	if err := s.store.setPushConfig(taskID, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetTaskPushNotificationConfig returns one push config for a task.
func (s *Service) GetTaskPushNotificationConfig(taskID, configID string) (*PushNotificationConfig, error) {
	config, ok := s.store.getPushConfig(taskID, configID)
	if !ok {
		return nil, invalidParams("push notification config %q not found for task %q", configID, taskID)
	}
	return config, nil
}

// ListTaskPushNotificationConfig returns every push config for a task.
func (s *Service) ListTaskPushNotificationConfig(taskID string) ([]PushNotificationConfig, error) {
	if _, ok := s.store.getTask(taskID); !ok {
		return nil, taskNotFound(taskID)
	}
	return s.store.listPushConfigs(taskID), nil
}

// DeleteTaskPushNotificationConfig removes one push config from a task.
func (s *Service) DeleteTaskPushNotificationConfig(taskID, configID string) error {
	s.store.deletePushConfig(taskID, configID)
	return nil
}

// GetExtendedAgentCard returns this service's AgentCard.
func (s *Service) GetExtendedAgentCard() AgentCard {
	return s.agentCard
}
