package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dbchat/dbchat/internal/assistant"
	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/query/sqldb"
)

const maxRequestBody = 1 << 20

type connectRequest struct {
	Dialect  string `json:"dialect"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	DSN      string `json:"dsn"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type messageResponse struct {
	Turn      int           `json:"turn"`
	User      string        `json:"user"`
	Assistant string        `json:"assistant"`
	SQL       string        `json:"sql,omitempty"`
	Result    *query.Result `json:"result,omitempty"`
	Error     *chat.Failure `json:"error,omitempty"`
}

type connectionView struct {
	Dialect     sqldb.Dialect `json:"dialect"`
	Summary     string        `json:"summary"`
	Tables      []string      `json:"tables"`
	ConnectedAt time.Time     `json:"connected_at"`
}

type sessionView struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActive   time.Time       `json:"last_active"`
	Connected    bool            `json:"connected"`
	Connection   *connectionView `json:"connection,omitempty"`
	ConnectError string          `json:"connect_error,omitempty"`
	Messages     []chat.Message  `json:"messages"`
	Turns        []chat.Turn     `json:"turns"`
}

type sessionSummary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Connected  bool      `json:"connected"`
	Messages   int       `json:"messages"`
}

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Store == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	sessions := deps.Store.List()
	items := make([]sessionSummary, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, sessionSummary{
			ID:         session.ID,
			CreatedAt:  session.CreatedAt,
			LastActive: session.LastActive(),
			Connected:  session.Connection() != nil,
			Messages:   len(session.Transcript()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Store == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	session := deps.Store.Create()
	view := newSessionView(session)

	if deps.DefaultDatabase != nil && deps.Connector != nil {
		conn, err := deps.Connector.Connect(r.Context(), *deps.DefaultDatabase)
		if err != nil {
			deps.Logger.WarnContext(r.Context(), "default_connect_failed",
				"session_id", session.ID,
				"database", deps.DefaultDatabase.Summary(),
				"error", err,
			)
			view.ConnectError = err.Error()
		} else if err := session.SetConnection(conn); err != nil {
			view.ConnectError = err.Error()
		} else {
			view = newSessionView(session)
		}
	}

	writeJSON(w, http.StatusCreated, view)
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(session))
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Store == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return
	}
	id := r.PathValue("id")
	if err := deps.Store.Delete(id); err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session does not exist", false, map[string]any{"session_id": id})
			return
		}
		deps.Logger.WarnContext(r.Context(), "session_close_failed", "session_id", id, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleConnect(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	if deps.Connector == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTOR_NOT_CONFIGURED", "database connector is not configured", false, nil)
		return
	}

	var request connectRequest
	if !decodeBody(w, r, &request) {
		return
	}
	dialect, err := sqldb.ParseDialect(request.Dialect)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	settings := sqldb.Settings{
		Dialect:  dialect,
		Host:     strings.TrimSpace(request.Host),
		Port:     request.Port,
		User:     strings.TrimSpace(request.User),
		Password: request.Password,
		Database: strings.TrimSpace(request.Database),
		DSN:      strings.TrimSpace(request.DSN),
	}
	if _, err := settings.DataSourceName(); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}

	conn, err := deps.Connector.Connect(r.Context(), settings)
	if err != nil {
		deps.Logger.WarnContext(r.Context(), "connect_failed",
			"session_id", session.ID,
			"database", settings.Summary(),
			"error", err,
		)
		writeError(r.Context(), w, http.StatusBadGateway, "CONNECT_FAILED", "failed to connect to database", true, map[string]any{"details": err.Error()})
		return
	}
	if err := session.SetConnection(conn); err != nil {
		deps.Logger.WarnContext(r.Context(), "previous_connection_close_failed", "session_id", session.ID, "error", err)
	}
	session.Touch()

	deps.Logger.InfoContext(r.Context(), "session_connected",
		"session_id", session.ID,
		"database", settings.Summary(),
		"tables", len(conn.Schema.Tables),
	)
	writeJSON(w, http.StatusOK, newConnectionView(conn))
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	conn := session.Connection()
	if conn == nil {
		writeError(r.Context(), w, http.StatusConflict, "DB_NOT_CONNECTED", assistant.NotConnectedMessage, false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dialect": conn.Settings.Dialect,
		"tables":  conn.Schema.Tables,
		"text":    conn.SchemaText,
	})
}

func handleMessage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant is not configured", false, nil)
		return
	}

	var request messageRequest
	if !decodeBody(w, r, &request) {
		return
	}
	session.Touch()

	turn, err := deps.Assistant.Ask(r.Context(), session, request.Text)
	if err != nil {
		switch {
		case errors.Is(err, assistant.ErrNotConnected):
			writeError(r.Context(), w, http.StatusConflict, "DB_NOT_CONNECTED", assistant.NotConnectedMessage, false, nil)
		case errors.Is(err, assistant.ErrEmptyQuestion), errors.Is(err, assistant.ErrQuestionTooLong):
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "failed to process message", true, map[string]any{"details": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Turn:      turn.Index,
		User:      turn.Question,
		Assistant: turn.Answer,
		SQL:       turn.SQL,
		Result:    turn.Result,
		Error:     turn.Failure,
	})
}

func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := lookupSession(deps, w, r)
	if !ok {
		return
	}
	if deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_DISABLED", "export is not enabled", false, nil)
		return
	}
	summary, err := deps.Exporter.Export(r.Context(), session)
	if err != nil {
		deps.Logger.ErrorContext(r.Context(), "export_failed", "session_id", session.ID, "error", err)
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "failed to export session", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func lookupSession(deps Dependencies, w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	if deps.Store == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session store is not configured", false, nil)
		return nil, false
	}
	id := r.PathValue("id")
	session, err := deps.Store.Get(id)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session does not exist", false, map[string]any{"session_id": id})
		return nil, false
	}
	return session, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

func newSessionView(session *chat.Session) sessionView {
	view := sessionView{
		ID:         session.ID,
		CreatedAt:  session.CreatedAt,
		LastActive: session.LastActive(),
		Messages:   session.Transcript(),
		Turns:      session.Turns(),
	}
	if view.Turns == nil {
		view.Turns = []chat.Turn{}
	}
	if conn := session.Connection(); conn != nil {
		connView := newConnectionView(conn)
		view.Connected = true
		view.Connection = &connView
	}
	return view
}

func newConnectionView(conn *chat.Connection) connectionView {
	return connectionView{
		Dialect:     conn.Settings.Dialect,
		Summary:     conn.Settings.Summary(),
		Tables:      conn.Schema.TableNames(),
		ConnectedAt: conn.ConnectedAt,
	}
}
