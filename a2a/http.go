package a2a

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// HTTP binding over gorilla/mux, grounded on the teacher's
// apiserver/server/routes.go makeHandler/sendJSONResponse idiom: one
// route per A2A method instead of the teacher's one-route-per-DAG-query
// shape, same wrapper pattern.

const (
	routeParamTaskID   = "taskId"
	routeParamConfigID = "configId"
)

func httpStatusForCode(code Code) int {
	switch code {
	case CodeTaskNotFound:
		return http.StatusNotFound
	case CodeInvalidParams:
		return http.StatusBadRequest
	case CodeUnsupportedOperation:
		return http.StatusConflict
	case CodeTosEscrowFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		// Encoding errors here mean the response body is already
		// partially written; there is nothing left to do but let the
		// client see a truncated body and the server log the failure
		// via its own transport-level logging, same as the teacher's
		// sendJSONResponse leaves a write failure to its caller.
		_ = json.NewEncoder(w).Encode(v)
	}
}

func sendError(w http.ResponseWriter, err error) {
	a2aErr, ok := err.(*Error)
	if !ok {
		a2aErr = internalError(err.Error())
	}
	sendJSON(w, httpStatusForCode(a2aErr.Code), a2aErr)
}

// NewHTTPHandler builds the mux.Router serving svc's JSON+HTTP binding
// (AgentCard.SupportedInterfaces' "HTTP+JSON" entry).
func NewHTTPHandler(svc *Service) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/message:send", func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, invalidParams("decoding request body: %s", err))
			return
		}
		resp, err := svc.SendMessage(req)
		if err != nil {
			sendError(w, err)
			return
		}
		sendJSON(w, http.StatusOK, resp)
	}).Methods(http.MethodPost)

	router.HandleFunc("/message:stream", func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, invalidParams("decoding request body: %s", err))
			return
		}
		events, err := svc.SendStreamingMessage(req)
		if err != nil {
			sendError(w, err)
			return
		}
		sendJSON(w, http.StatusOK, events)
	}).Methods(http.MethodPost)

	router.HandleFunc("/tasks/{"+routeParamTaskID+"}", func(w http.ResponseWriter, r *http.Request) {
		task, err := svc.GetTask(mux.Vars(r)[routeParamTaskID])
		if err != nil {
			sendError(w, err)
			return
		}
		sendJSON(w, http.StatusOK, task)
	}).Methods(http.MethodGet)

	router.HandleFunc("/tasks/{"+routeParamTaskID+"}:cancel", func(w http.ResponseWriter, r *http.Request) {
		task, err := svc.CancelTask(mux.Vars(r)[routeParamTaskID])
		if err != nil {
			sendError(w, err)
			return
		}
		sendJSON(w, http.StatusOK, task)
	}).Methods(http.MethodPost)

	router.HandleFunc("/tasks/{"+routeParamTaskID+"}:subscribe", func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.SubscribeToTask(mux.Vars(r)[routeParamTaskID])
		if err != nil {
			sendError(w, err)
			return
		}
		sendJSON(w, http.StatusOK, events)
	}).Methods(http.MethodGet)

	router.HandleFunc("/tasks/{"+routeParamTaskID+"}/pushNotificationConfigs", func(w http.ResponseWriter, r *http.Request) {
		taskID := mux.Vars(r)[routeParamTaskID]
		switch r.Method {
		case http.MethodPost:
			var config PushNotificationConfig
			if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
				sendError(w, invalidParams("decoding request body: %s", err))
				return
			}
			created, err := svc.SetTaskPushNotificationConfig(taskID, config)
			if err != nil {
				sendError(w, err)
				return
			}
			sendJSON(w, http.StatusOK, created)
		case http.MethodGet:
			configs, err := svc.ListTaskPushNotificationConfig(taskID)
			if err != nil {
				sendError(w, err)
				return
			}
			sendJSON(w, http.StatusOK, configs)
		}
	}).Methods(http.MethodPost, http.MethodGet)

	router.HandleFunc("/tasks/{"+routeParamTaskID+"}/pushNotificationConfigs/{"+routeParamConfigID+"}", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		taskID, configID := vars[routeParamTaskID], vars[routeParamConfigID]
		switch r.Method {
		case http.MethodGet:
			config, err := svc.GetTaskPushNotificationConfig(taskID, configID)
			if err != nil {
				sendError(w, err)
				return
			}
			sendJSON(w, http.StatusOK, config)
		case http.MethodDelete:
			if err := svc.DeleteTaskPushNotificationConfig(taskID, configID); err != nil {
				sendError(w, err)
				return
			}
			sendJSON(w, http.StatusNoContent, nil)
		}
	}).Methods(http.MethodGet, http.MethodDelete)

	router.HandleFunc("/.well-known/agent-card.json", func(w http.ResponseWriter, r *http.Request) {
		sendJSON(w, http.StatusOK, svc.GetExtendedAgentCard())
	}).Methods(http.MethodGet)

	return router
}
