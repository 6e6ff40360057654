package a2a

import "sync"

// taskStore is an in-memory task/push-notification-config registry.
// original_source's storage.rs persists this to disk per network
// (get_or_init); this daemon keeps it in memory only, since nothing in
// SPEC_FULL.md requires A2A task bookkeeping to survive a restart (a
// task is reconstructible from the escrow it anchors to, which does
// persist in chainstate) — see DESIGN.md.
type taskStore struct {
	mu          sync.Mutex
	tasks       map[string]*Task
	pushConfigs map[string]map[string]*PushNotificationConfig // taskID -> configID -> config
}

func newTaskStore() *taskStore {
	return &taskStore{
		tasks:       make(map[string]*Task),
		pushConfigs: make(map[string]map[string]*PushNotificationConfig),
	}
}

func (s *taskStore) getTask(taskID string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	clone := *task
	return &clone, true
}

func (s *taskStore) putTask(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *task
	s.tasks[task.ID] = &clone
}

func (s *taskStore) setPushConfig(taskID string, config *PushNotificationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	configs, ok := s.pushConfigs[taskID]
	if !ok {
		configs = make(map[string]*PushNotificationConfig)
		s.pushConfigs[taskID] = configs
	}
	if _, exists := configs[config.ID]; !exists && len(configs) >= MaxPushConfigsPerTask {
		return invalidParams("task %q already has %d push configs, maximum is %d", taskID, len(configs), MaxPushConfigsPerTask)
	}
	clone := *config
	configs[config.ID] = &clone
	return nil
}

func (s *taskStore) getPushConfig(taskID, configID string) (*PushNotificationConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	configs, ok := s.pushConfigs[taskID]
	if !ok {
		return nil, false
	}
	config, ok := configs[configID]
	if !ok {
		return nil, false
	}
	clone := *config
	return &clone, true
}

func (s *taskStore) listPushConfigs(taskID string) []PushNotificationConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	configs := s.pushConfigs[taskID]
	out := make([]PushNotificationConfig, 0, len(configs))
	for _, config := range configs {
		out = append(out, *config)
	}
	return out
}

func (s *taskStore) deletePushConfig(taskID, configID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pushConfigs[taskID], configID)
}
