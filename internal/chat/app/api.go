package app

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/peerline/peerline/internal/chat/domain"
	"github.com/peerline/peerline/internal/chat/ops"
	"github.com/peerline/peerline/internal/chat/wire"
	perrors "github.com/peerline/peerline/internal/platform/errors"
	"google.golang.org/grpc/codes"
)

// api exposes the operation layer over HTTP. Every response is a
// wire.Envelope so clients branch on error codes, never status texts.
type api struct {
	service *ops.Service
	auth    *authenticator
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session/start", a.handleStartSession)
	mux.HandleFunc("GET /api/session/open", a.handleOpenSession)
	mux.HandleFunc("GET /api/session", a.handleGetSession)
	mux.HandleFunc("POST /api/session/end", a.handleEndSession)
	mux.HandleFunc("GET /api/session/messages", a.handleSessionMessages)
	mux.HandleFunc("POST /api/message/send", a.handleSendMessage)
	mux.HandleFunc("POST /api/message/read", a.handleMarkRead)
	mux.HandleFunc("POST /api/phone-call/request", a.handlePhoneCallRequest)
	mux.HandleFunc("POST /api/phone-call/respond", a.handlePhoneCallRespond)
	mux.HandleFunc("POST /api/device/register", a.handleRegisterDevice)
	mux.HandleFunc("GET /api/device/current", a.handleCurrentDevice)
	mux.HandleFunc("POST /api/device/logout", a.handleLogout)
}

func writeEnvelope(w http.ResponseWriter, status int, envelope wire.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func writeData(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("api: encode payload: %v", err)
		writeError(w, perrors.New(perrors.CodeUnknown, "internal error"))
		return
	}
	writeEnvelope(w, http.StatusOK, wire.Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	var domainErr *perrors.Error
	if !errors.As(err, &domainErr) {
		log.Printf("api: internal error: %v", err)
		domainErr = perrors.New(perrors.CodeUnknown, "internal error")
	}
	status := httpStatus(domainErr.Code)
	writeEnvelope(w, status, wire.Envelope{
		Success:      false,
		ErrorCode:    string(domainErr.Code),
		ErrorMessage: domainErr.Message,
	})
}

func httpStatus(code perrors.Code) int {
	switch code.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition, codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return perrors.Wrap(perrors.CodeUnknown, "invalid request body", err)
	}
	return nil
}

func (a *api) handleStartSession(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req wire.StartSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = caller.UserID
	}
	if err := authorizeUser(caller, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	session, err := a.service.StartOrReuseSession(r.Context(), req.UserID, req.ForceNew)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, wire.FromSession(session))
}

func (a *api) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = caller.UserID
	}
	if err := authorizeUser(caller, userID); err != nil {
		writeError(w, err)
		return
	}

	session, err := a.service.FindOpenSession(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, wire.FromSession(session))
}

func (a *api) handleGetSession(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	session, err := a.service.GetSession(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorizeUser(caller, session.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, wire.FromSession(session))
}

func (a *api) handleEndSession(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req wire.EndSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = caller.UserID
	}
	if err := authorizeUser(caller, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	reason := domain.EndReason(req.Reason)
	if reason == "" {
		reason = domain.EndReasonManual
	}

	session, err := a.service.EndSession(r.Context(), req.SessionID, req.UserID, reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, wire.FromSession(session))
}

func (a *api) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	session, err := a.service.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorizeUser(caller, session.UserID); err != nil {
		writeError(w, err)
		return
	}
	messages, err := a.service.SessionMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	rows := make([]wire.Message, 0, len(messages))
	for _, message := range messages {
		rows = append(rows, wire.FromMessage(message))
	}
	writeData(w, rows)
}

func (a *api) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req wire.SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SenderID == "" {
		req.SenderID = caller.UserID
	}
	if err := authorizeUser(caller, req.SenderID); err != nil {
		writeError(w, err)
		return
	}

	result, err := a.service.SendMessage(r.Context(), ops.SendRequest{
		SessionID:       req.SessionID,
		SenderID:        req.SenderID,
		SenderRole:      domain.SenderRole(req.SenderRole),
		Kind:            domain.MessageKind(req.Kind),
		Content:         req.Content,
		Metadata:        req.Metadata,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	out := wire.SendMessageResult{Message: wire.FromMessage(result.Message)}
	if result.Session != nil {
		session := wire.FromSession(*result.Session)
		out.Session = &session
	}
	writeData(w, out)
}

func (a *api) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req wire.MarkReadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ReaderID == "" {
		req.ReaderID = caller.UserID
	}
	if err := authorizeUser(caller, req.ReaderID); err != nil {
		writeError(w, err)
		return
	}

	changed, err := a.service.MarkRead(r.Context(), req.SessionID, req.ReaderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]int64{"updated": changed})
}

func (a *api) handlePhoneCallRequest(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req wire.PhoneCallCreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.RequesterID == "" {
		req.RequesterID = caller.UserID
	}
	if err := authorizeUser(caller, req.RequesterID); err != nil {
		writeError(w, err)
		return
	}

	request, err := a.service.RequestPhoneCall(r.Context(), req.SessionID, req.RequesterID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, wire.FromPhoneCall(request))
}

func (a *api) handlePhoneCallRespond(w http.ResponseWriter, r *http.Request) {
	if _, err := a.auth.authenticate(r); err != nil {
		writeError(w, err)
		return
	}
	var req wire.PhoneCallRespondRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	request, err := a.service.RespondPhoneCall(r.Context(), req.RequestID, req.Accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, wire.FromPhoneCall(request))
}

func (a *api) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req wire.RegisterDeviceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = caller.UserID
	}
	if err := authorizeUser(caller, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	record, err := a.service.RegisterDevice(r.Context(), req.UserID, req.SessionToken, req.DeviceInfo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, wire.FromDevice(record))
}

func (a *api) handleCurrentDevice(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = caller.UserID
	}
	if err := authorizeUser(caller, userID); err != nil {
		writeError(w, err)
		return
	}

	record, err := a.service.CurrentDevice(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, wire.FromDevice(record))
}

func (a *api) handleLogout(w http.ResponseWriter, r *http.Request) {
	caller, err := a.auth.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req wire.LogoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = caller.UserID
	}
	if err := authorizeUser(caller, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	if err := a.service.Logout(r.Context(), req.UserID, req.SessionToken); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]bool{"ok": true})
}
