package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avvvet/doorlock-services/internal/comm"
	"github.com/avvvet/doorlock-services/internal/locksvc/errs"
	"github.com/avvvet/doorlock-services/internal/locksvc/models"
	"github.com/avvvet/doorlock-services/internal/locksvc/sensor"
	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// LockStatus is the read side of the lock exposed over HTTP.
type LockStatus interface {
	Info() (comm.DeviceInfo, error)
	Storage() (comm.StorageStatus, error)
	Members() ([]models.MemberRecord, error)
	Attendance(day string) ([]models.AttendanceRecord, error)
}

type Handler struct {
	tokenAuth *jwtauth.JWTAuth
	upgrader  websocket.Upgrader
	status    LockStatus
	hub       *Hub
	sim       *sensor.Simulator
	port      string
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

// NewHandler builds the API. sim may be nil; the touch route is then not mounted.
func NewHandler(status LockStatus, hub *Hub, sim *sensor.Simulator, port string) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		status: status,
		hub:    hub,
		sim:    sim,
		port:   port,
	}
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrMalformedRecord):
		code = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		code = http.StatusNotFound
	}
	h.CreateResponse(w, Response{Message: errs.Code(err), Code: code, Error: err.Error()})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.CreateResponse(w, Response{
		Message: "lock service is running at port " + h.port,
		Code:    http.StatusOK,
	})
}

func (h *Handler) DeviceHandler(w http.ResponseWriter, r *http.Request) {
	info, err := h.status.Info()
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "ok", Code: http.StatusOK, Data: info})
}

func (h *Handler) StorageHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Storage()
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "ok", Code: http.StatusOK, Data: st})
}

func (h *Handler) MembersHandler(w http.ResponseWriter, r *http.Request) {
	members, err := h.status.Members()
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	if members == nil {
		members = []models.MemberRecord{}
	}
	h.CreateResponse(w, Response{Message: "ok", Code: http.StatusOK, Data: members})
}

func (h *Handler) AttendanceHandler(w http.ResponseWriter, r *http.Request) {
	events, err := h.status.Attendance(chi.URLParam(r, "date"))
	if err != nil {
		h.errorResponse(w, err)
		return
	}
	h.CreateResponse(w, Response{Message: "ok", Code: http.StatusOK, Data: events})
}

type touchRequest struct {
	Finger string `json:"finger"`
	Enroll bool   `json:"enroll"`
}

// SimTouchHandler places a finger on the simulated reader. With enroll set
// the finger is presented, lifted and presented again.
func (h *Handler) SimTouchHandler(w http.ResponseWriter, r *http.Request) {
	req := touchRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Finger == "" {
		h.CreateResponse(w, Response{Message: "invalid touch", Code: http.StatusBadRequest, Error: "finger required"})
		return
	}
	if req.Enroll {
		h.sim.PresentForEnroll(req.Finger)
	} else {
		h.sim.Feed(req.Finger)
	}
	h.CreateResponse(w, Response{Message: "queued", Code: http.StatusAccepted})
}

// HandleWebSocket registers a read-only listener for access events.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	socketId := uuid.New().String()
	h.hub.StoreConnection(socketId, conn)
	log.Infof("New WebSocket connection established: %s", socketId)

	go h.handleConnection(conn, socketId)
}

func (h *Handler) handleConnection(conn *websocket.Conn, socketId string) {
	defer func() {
		log.Infof("Closing WebSocket connection: %s", socketId)
		h.hub.HandleDisconnect(socketId)
		conn.Close()
	}()

	// clients only listen; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Errorf("WebSocket unexpected close error for socket %s: %v", socketId, err)
			}
			return
		}
	}
}
